// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"crypto/ed25519"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/clock"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const rootFid uint32 = 0

type fixture struct {
	t       *testing.T
	server  *Server
	clock   *clock.FakeClock
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// newFixture builds a booted server on a fake clock. configure may
// adjust the options before the server is built.
func newFixture(t *testing.T, configure func(*Options)) *fixture {
	t.Helper()
	public, private, err := ticket.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	fake := clock.Fake(epoch)
	options := Options{Clock: fake, TicketKey: public}
	if configure != nil {
		configure(&options)
	}
	server, err := NewServer(options)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return &fixture{t: t, server: server, clock: fake, public: public, private: private}
}

// mint signs claims and returns the attach name carrying them.
func (f *fixture) mint(claims *ticket.Claims) string {
	f.t.Helper()
	ticketBytes, err := ticket.Mint(f.private, claims)
	if err != nil {
		f.t.Fatalf("Mint: %v", err)
	}
	return ticket.Encode(ticketBytes)
}

// workerTicket grants a worker read-write access to its own subtree.
func (f *fixture) workerTicket(role ticket.Role, id string) string {
	return f.mint(&ticket.Claims{
		ID:       "ticket-" + id,
		Role:     role,
		Subject:  id,
		Scopes:   []ticket.Scope{{PathPrefix: "/worker/" + id, Verb: ticket.VerbReadWrite}},
		IssuedAt: f.clock.Now().Unix(),
		TTL:      3600,
	})
}

type client struct {
	t       *testing.T
	session *Session
	nextFid uint32
}

// connect opens a session and negotiates the protocol version.
func (f *fixture) connect() *client {
	f.t.Helper()
	c := &client{t: f.t, session: f.server.NewSession("test"), nextFid: 1}
	f.t.Cleanup(c.session.Close)
	version := c.call(secure9p.Tversion{MaxSize: secure9p.DefaultMaxMessageSize, Version: secure9p.ProtocolVersion})
	if got, ok := version.(secure9p.Rversion); !ok || got.Version != secure9p.ProtocolVersion {
		f.t.Fatalf("Tversion: got %#v", version)
	}
	return c
}

// attach connects and attaches as role with an optional ticket.
func (f *fixture) attach(role ticket.Role, aname string) *client {
	f.t.Helper()
	c := f.connect()
	response := c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: string(role), Aname: aname})
	if _, ok := response.(secure9p.Rattach); !ok {
		f.t.Fatalf("attach as %s: got %#v", role, response)
	}
	return c
}

// exchange sends requests as one batch tagged 1..n and returns the
// responses sorted by tag.
func (c *client) exchange(requests ...secure9p.Message) []secure9p.Frame {
	c.t.Helper()
	frames := make([]secure9p.Frame, len(requests))
	for index, request := range requests {
		frames[index] = secure9p.Frame{Tag: uint16(index + 1), Message: request}
	}
	batch, err := secure9p.EncodeBatch(frames)
	if err != nil {
		c.t.Fatalf("EncodeBatch: %v", err)
	}
	encoded, err := c.session.Exchange(batch)
	if err != nil {
		c.t.Fatalf("Exchange: %v", err)
	}
	return decodeResponses(c.t, encoded)
}

func decodeResponses(t *testing.T, encoded []byte) []secure9p.Frame {
	t.Helper()
	var responses []secure9p.Frame
	iterator := secure9p.NewBatchIterator(encoded, 0)
	for {
		frame, err := iterator.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decoding response batch: %v", err)
		}
		responses = append(responses, frame)
	}
	slices.SortFunc(responses, func(a, b secure9p.Frame) int { return int(a.Tag) - int(b.Tag) })
	return responses
}

// call sends one request and returns its response.
func (c *client) call(request secure9p.Message) secure9p.Message {
	c.t.Helper()
	responses := c.exchange(request)
	if len(responses) != 1 {
		c.t.Fatalf("%s: got %d responses, want 1", request.Type(), len(responses))
	}
	return responses[0].Message
}

// walk clones the root fid and walks it to path, returning the new
// fid.
func (c *client) walk(path string) (uint32, secure9p.Message) {
	c.t.Helper()
	fid := c.nextFid
	c.nextFid++
	var names []string
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		names = strings.Split(trimmed, "/")
	}
	return fid, c.call(secure9p.Twalk{Fid: rootFid, NewFid: fid, Names: names})
}

// open walks to path and opens it with mode, failing the test on any
// error.
func (c *client) open(path string, mode secure9p.OpenMode) uint32 {
	c.t.Helper()
	fid, response := c.walk(path)
	if _, ok := response.(secure9p.Rwalk); !ok {
		c.t.Fatalf("walk %s: got %#v", path, response)
	}
	if response := c.call(secure9p.Topen{Fid: fid, Mode: mode}); !isType[secure9p.Ropen](response) {
		c.t.Fatalf("open %s: got %#v", path, response)
	}
	return fid
}

func (c *client) write(fid uint32, offset uint64, data string) secure9p.Message {
	c.t.Helper()
	return c.call(secure9p.Twrite{Fid: fid, Offset: offset, Data: []byte(data)})
}

// mustWrite writes data and fails the test unless it is accepted
// whole.
func (c *client) mustWrite(fid uint32, offset uint64, data string) {
	c.t.Helper()
	response := c.write(fid, offset, data)
	written, ok := response.(secure9p.Rwrite)
	if !ok || int(written.Count) != len(data) {
		c.t.Fatalf("write %q: got %#v", data, response)
	}
}

func (c *client) read(fid uint32, offset uint64, count uint32) secure9p.Message {
	c.t.Helper()
	return c.call(secure9p.Tread{Fid: fid, Offset: offset, Count: count})
}

// mustRead reads and fails the test on an error response.
func (c *client) mustRead(fid uint32, offset uint64, count uint32) string {
	c.t.Helper()
	response := c.read(fid, offset, count)
	data, ok := response.(secure9p.Rread)
	if !ok {
		c.t.Fatalf("read fid %d at %d: got %#v", fid, offset, response)
	}
	return string(data.Data)
}

// readFile opens path for reading and returns its whole contents.
func (c *client) readFile(path string) string {
	c.t.Helper()
	fid := c.open(path, secure9p.OpenRead)
	defer c.call(secure9p.Tclunk{Fid: fid})
	return c.mustRead(fid, 0, 4096)
}

// control writes one command to a control file and fails the test
// unless it is accepted.
func (c *client) control(path, command string) {
	c.t.Helper()
	fid := c.open(path, secure9p.OpenWrite)
	defer c.call(secure9p.Tclunk{Fid: fid})
	c.mustWrite(fid, 0, command)
}

func isType[T secure9p.Message](message secure9p.Message) bool {
	_, ok := message.(T)
	return ok
}

// requireError checks that response is an Rerror with code and a
// message containing substring.
func requireError(t *testing.T, response secure9p.Message, code secure9p.ErrorCode, substring string) {
	t.Helper()
	rerror, ok := response.(secure9p.Rerror)
	if !ok {
		t.Fatalf("got %#v, want Rerror{%s, %q}", response, code, substring)
	}
	if rerror.Code != code || !strings.Contains(rerror.Message, substring) {
		t.Fatalf("got Rerror{%s, %q}, want Rerror{%s, %q}", rerror.Code, rerror.Message, code, substring)
	}
}

// auditLines returns the audit ring's contents, one line per entry.
func (f *fixture) auditLines() []string {
	f.t.Helper()
	data, _, err := f.server.auditRing.ReadAt(0, 1<<20)
	if err != nil {
		f.t.Fatalf("reading audit ring: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func countPrefix(lines []string, prefix string) int {
	count := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			count++
		}
	}
	return count
}
