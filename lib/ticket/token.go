// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bureau-foundation/ninedoor/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize

var (
	ErrTicketTooShort   = errors.New("ticket: too short for signature")
	ErrInvalidSignature = errors.New("ticket: invalid Ed25519 signature")
	ErrMalformed        = errors.New("ticket: malformed")
)

// GenerateKeypair creates an Ed25519 keypair for signing tickets.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// LoadPublicKey reads a verification key from path. The file holds
// either the raw 32 key bytes or their hex encoding.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ticket public key: %w", err)
	}
	if len(data) == ed25519.PublicKeySize {
		return ed25519.PublicKey(data), nil
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ticket public key %s: want %d raw or hex-encoded bytes", path, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// Mint signs claims and returns the wire bytes: the CBOR payload
// followed by the signature.
func Mint(privateKey ed25519.PrivateKey, claims *Claims) ([]byte, error) {
	payload, err := codec.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("ticket: encoding claims: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)
	return result, nil
}

// Verify checks the signature on ticket bytes and decodes the claims.
// Expiry is not checked here; the Enforcer does that so expired
// tickets are audited like any other denial.
func Verify(publicKey ed25519.PublicKey, ticketBytes []byte) (*Claims, error) {
	if len(ticketBytes) <= signatureSize {
		return nil, ErrTicketTooShort
	}
	splitPoint := len(ticketBytes) - signatureSize
	payload := ticketBytes[:splitPoint]
	signature := ticketBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var claims Claims
	if err := codec.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrMalformed, err)
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, scope := range claims.Scopes {
		if !strings.HasPrefix(scope.PathPrefix, "/") {
			return nil, fmt.Errorf("%w: scope prefix %q is not absolute", ErrMalformed, scope.PathPrefix)
		}
		switch scope.Verb {
		case VerbRead, VerbWrite, VerbReadWrite:
		default:
			return nil, fmt.Errorf("%w: scope verb %q", ErrMalformed, scope.Verb)
		}
	}
	return &claims, nil
}

// Encode renders ticket bytes as attach-name text.
func Encode(ticketBytes []byte) string {
	return base64.RawURLEncoding.EncodeToString(ticketBytes)
}

// Decode parses attach-name text back into ticket bytes.
func Decode(text string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(text, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// Parse decodes and verifies attach-name text in one step.
func Parse(publicKey ed25519.PublicKey, text string) (*Claims, error) {
	data, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return Verify(publicKey, data)
}
