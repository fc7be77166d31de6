// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import "fmt"

const (
	// ProtocolVersion is the only version string NineDoor negotiates.
	ProtocolVersion = "9P2000.L"

	// UnknownVersion is returned in Rversion when the peer proposes a
	// version NineDoor does not speak.
	UnknownVersion = "unknown"

	// DefaultMaxMessageSize is the msize offered when configuration
	// does not override it.
	DefaultMaxMessageSize uint32 = 8192

	// MinMessageSize is the smallest msize a peer may negotiate. Below
	// this an Rwalk with a full set of qids would not fit.
	MinMessageSize uint32 = 256

	// NoTag is the tag conventionally used by Tversion.
	NoTag uint16 = 0xFFFF

	// NoFid marks an absent fid (the afid of an unauthenticated
	// Tattach).
	NoFid uint32 = 0xFFFFFFFF

	// MaxWalkElements bounds the names in one Twalk and the qids in one
	// Rwalk.
	MaxWalkElements = 16

	// HeaderSize is size[4] type[1] tag[2].
	HeaderSize = 7

	// QidSize is type[1] version[4] path[8].
	QidSize = 13

	// ReadOverhead is the framing cost of an Rread around its data:
	// the header plus count[4].
	ReadOverhead = HeaderSize + 4

	// WriteOverhead is the framing cost of a Twrite around its data:
	// the header plus fid[4] offset[8] count[4].
	WriteOverhead = HeaderSize + 4 + 8 + 4
)

// MessageType is the type byte of a frame.
type MessageType uint8

const (
	TypeTversion MessageType = 100
	TypeRversion MessageType = 101
	TypeTattach  MessageType = 104
	TypeRattach  MessageType = 105
	TypeRerror   MessageType = 107
	TypeTwalk    MessageType = 110
	TypeRwalk    MessageType = 111
	TypeTopen    MessageType = 112
	TypeRopen    MessageType = 113
	TypeTread    MessageType = 116
	TypeRread    MessageType = 117
	TypeTwrite   MessageType = 118
	TypeRwrite   MessageType = 119
	TypeTclunk   MessageType = 120
	TypeRclunk   MessageType = 121
)

func (t MessageType) String() string {
	switch t {
	case TypeTversion:
		return "Tversion"
	case TypeRversion:
		return "Rversion"
	case TypeTattach:
		return "Tattach"
	case TypeRattach:
		return "Rattach"
	case TypeRerror:
		return "Rerror"
	case TypeTwalk:
		return "Twalk"
	case TypeRwalk:
		return "Rwalk"
	case TypeTopen:
		return "Topen"
	case TypeRopen:
		return "Ropen"
	case TypeTread:
		return "Tread"
	case TypeRread:
		return "Rread"
	case TypeTwrite:
		return "Twrite"
	case TypeRwrite:
		return "Rwrite"
	case TypeTclunk:
		return "Tclunk"
	case TypeRclunk:
		return "Rclunk"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// IsRequest reports whether t is a T-message.
func (t MessageType) IsRequest() bool {
	switch t {
	case TypeTversion, TypeTattach, TypeTwalk, TypeTopen, TypeTread, TypeTwrite, TypeTclunk:
		return true
	}
	return false
}

// QidType classifies the node a Qid names. The values follow the 9P
// mode bits.
type QidType uint8

const (
	QidFile       QidType = 0x00
	QidAppendOnly QidType = 0x40
	QidDirectory  QidType = 0x80
)

func (t QidType) valid() bool {
	return t == QidFile || t == QidAppendOnly || t == QidDirectory
}

func (t QidType) String() string {
	switch t {
	case QidFile:
		return "file"
	case QidAppendOnly:
		return "append-only"
	case QidDirectory:
		return "directory"
	default:
		return fmt.Sprintf("QidType(%#x)", uint8(t))
	}
}

// Qid is the server's identity for a namespace node. Path is a stable
// hash of the node's namespace path; Version changes whenever the
// node's contents change.
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}

func (q Qid) String() string {
	return fmt.Sprintf("(%s %d %016x)", q.Type, q.Version, q.Path)
}

// OpenMode is the access mode requested by Topen.
type OpenMode uint8

const (
	OpenRead      OpenMode = 0
	OpenWrite     OpenMode = 1
	OpenReadWrite OpenMode = 2
)

func (m OpenMode) valid() bool { return m <= OpenReadWrite }

// Readable reports whether the mode permits Tread.
func (m OpenMode) Readable() bool { return m == OpenRead || m == OpenReadWrite }

// Writable reports whether the mode permits Twrite.
func (m OpenMode) Writable() bool { return m == OpenWrite || m == OpenReadWrite }

// Message is one of the closed set of Secure9P message bodies.
type Message interface {
	Type() MessageType
}

// Frame is a message together with its tag.
type Frame struct {
	Tag     uint16
	Message Message
}

type Tversion struct {
	MaxSize uint32
	Version string
}

type Rversion struct {
	MaxSize uint32
	Version string
}

// Tattach binds Fid to the namespace root. Uname carries the
// role-derived user name and Aname the optional capability ticket.
type Tattach struct {
	Fid     uint32
	AuthFid uint32
	Uname   string
	Aname   string
	NUname  uint32
}

type Rattach struct {
	Qid Qid
}

type Twalk struct {
	Fid    uint32
	NewFid uint32
	Names  []string
}

type Rwalk struct {
	Qids []Qid
}

type Topen struct {
	Fid  uint32
	Mode OpenMode
}

type Ropen struct {
	Qid    Qid
	IOUnit uint32
}

type Tread struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

type Rread struct {
	Data []byte
}

type Twrite struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

type Rwrite struct {
	Count uint32
}

type Tclunk struct {
	Fid uint32
}

type Rclunk struct{}

// Rerror reports a failed request with a typed code.
type Rerror struct {
	Code    ErrorCode
	Message string
}

func (Tversion) Type() MessageType { return TypeTversion }
func (Rversion) Type() MessageType { return TypeRversion }
func (Tattach) Type() MessageType  { return TypeTattach }
func (Rattach) Type() MessageType  { return TypeRattach }
func (Twalk) Type() MessageType    { return TypeTwalk }
func (Rwalk) Type() MessageType    { return TypeRwalk }
func (Topen) Type() MessageType    { return TypeTopen }
func (Ropen) Type() MessageType    { return TypeRopen }
func (Tread) Type() MessageType    { return TypeTread }
func (Rread) Type() MessageType    { return TypeRread }
func (Twrite) Type() MessageType   { return TypeTwrite }
func (Rwrite) Type() MessageType   { return TypeRwrite }
func (Tclunk) Type() MessageType   { return TypeTclunk }
func (Rclunk) Type() MessageType   { return TypeRclunk }
func (Rerror) Type() MessageType   { return TypeRerror }
