// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/codec"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/replay"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

const spawnHeartbeat = `{"spawn":"heartbeat","ticks":5}`

// spawnWorker spawns a heartbeat worker through queen and attaches a
// session as it.
func (f *fixture) spawnWorker(queen *client, id string) *client {
	f.t.Helper()
	queen.control(pathQueenCtl, spawnHeartbeat)
	return f.attach(ticket.RoleWorkerHeartbeat, f.workerTicket(ticket.RoleWorkerHeartbeat, id))
}

func TestTelemetryAppendAndRead(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")

	fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	worker.mustWrite(fid, 0, "one\n")
	worker.mustWrite(fid, 4, "two\n")

	reader := queen.open("/worker/worker-1/telemetry", secure9p.OpenRead)
	if got := queen.mustRead(reader, 0, 4096); got != "one\ntwo\n" {
		t.Errorf("telemetry: got %q, want %q", got, "one\ntwo\n")
	}
	if got := queen.mustRead(reader, 8, 4096); got != "" {
		t.Errorf("read at next offset: got %q, want empty", got)
	}
}

func TestTelemetryWriteAtWrongOffset(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")

	fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	worker.mustWrite(fid, 0, "one\n")
	requireError(t, worker.write(fid, 2, "two\n"), secure9p.ErrorInvalid, "offset mismatch")
}

func TestTagWindowWithinBatch(t *testing.T) {
	f := newFixture(t, func(options *Options) {
		options.TagsPerSession = 1
		options.BatchFrames = 2
	})
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")
	fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)

	responses := worker.exchange(
		secure9p.Twrite{Fid: fid, Offset: telemetry.AppendAtEnd, Data: []byte("abcd")},
		secure9p.Twrite{Fid: fid, Offset: telemetry.AppendAtEnd, Data: []byte("efgh")},
	)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if written, ok := responses[0].Message.(secure9p.Rwrite); !ok || written.Count != 4 {
		t.Errorf("tag 1: got %#v, want Rwrite{4}", responses[0].Message)
	}
	requireError(t, responses[1].Message, secure9p.ErrorBusy, "tag window exceeded")

	if got := f.server.telemetry.Ring("worker-1").Window().Next; got != 4 {
		t.Errorf("ring next: got %d, want 4", got)
	}
}

func TestQueueDepthBackpressure(t *testing.T) {
	f := newFixture(t, func(options *Options) {
		options.TagsPerSession = 1
		options.BatchFrames = 1
	})
	c := f.connect()

	responses := c.exchange(secure9p.Tclunk{Fid: 1}, secure9p.Tclunk{Fid: 2})
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	for _, response := range responses {
		requireError(t, response.Message, secure9p.ErrorBusy, "queue depth exceeded")
	}
	snapshot := f.server.Metrics().Snapshot()
	if snapshot.BackpressureEvents != 1 {
		t.Errorf("backpressure events: got %d, want 1", snapshot.BackpressureEvents)
	}
	if snapshot.QueueDepth != 0 {
		t.Errorf("queue depth after refused batch: got %d, want 0", snapshot.QueueDepth)
	}
}

func TestExpiredTicketDeniedIdentically(t *testing.T) {
	f := newFixture(t, nil)
	expired := f.mint(&ticket.Claims{
		ID:       "expired",
		Role:     ticket.RoleQueen,
		Scopes:   []ticket.Scope{{PathPrefix: "/", Verb: ticket.VerbReadWrite}},
		IssuedAt: f.clock.Now().Add(-2 * time.Second).Unix(),
		TTL:      1,
	})

	c := f.connect()
	first := c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "queen", Aname: expired})
	second := c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "queen", Aname: expired})
	requireError(t, first, secure9p.ErrorPermission, "expired")
	if first != second {
		t.Errorf("second attach: got %#v, want %#v", second, first)
	}

	if got := f.server.Metrics().Snapshot().UIDenies; got != 2 {
		t.Errorf("ui denies: got %d, want 2", got)
	}
	if got := countPrefix(f.auditLines(), "ui-ticket outcome=deny reason=expired"); got != 2 {
		t.Errorf("expired audit lines: got %d, want 2", got)
	}
}

func TestTicketExpiresMidSession(t *testing.T) {
	f := newFixture(t, nil)
	aname := f.mint(&ticket.Claims{
		ID:       "short",
		Role:     ticket.RoleQueen,
		Scopes:   []ticket.Scope{{PathPrefix: "/proc", Verb: ticket.VerbRead}},
		IssuedAt: f.clock.Now().Unix(),
		TTL:      10,
	})
	c := f.attach(ticket.RoleQueen, aname)
	fid := c.open("/proc/lifecycle/state", secure9p.OpenRead)
	if got := c.mustRead(fid, 0, 64); got != "online\n" {
		t.Errorf("state: got %q, want %q", got, "online\n")
	}

	f.clock.Advance(10 * time.Second)
	requireError(t, c.read(fid, 0, 64), secure9p.ErrorPermission, "expired")
	_, response := c.walk("/proc")
	requireError(t, response, secure9p.ErrorPermission, "expired")
}

func TestAttachValidation(t *testing.T) {
	f := newFixture(t, func(options *Options) { options.RequireQueenTicket = true })

	tests := []struct {
		name    string
		uname   string
		aname   string
		code    secure9p.ErrorCode
		message string
	}{
		{"unknown role", "operator", "", secure9p.ErrorPermission, "unknown role"},
		{"queen without ticket", "queen", "", secure9p.ErrorPermission, "queen requires a ticket"},
		{"garbage ticket", "queen", "not-a-ticket", secure9p.ErrorPermission, "invalid ticket"},
		{"worker without ticket", "worker-heartbeat", "", secure9p.ErrorPermission, "requires a ticket"},
		{"role mismatch", "queen", f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-1"), secure9p.ErrorPermission, "does not match"},
		{"unknown worker", "worker-heartbeat", f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-9"), secure9p.ErrorNotFound, "no worker-heartbeat worker worker-9"},
	}
	for _, test := range tests {
		c := f.connect()
		response := c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: test.uname, Aname: test.aname})
		rerror, ok := response.(secure9p.Rerror)
		if !ok || rerror.Code != test.code || !strings.Contains(rerror.Message, test.message) {
			t.Errorf("%s: got %#v, want Rerror{%s, %q}", test.name, response, test.code, test.message)
		}
	}
}

func TestVersionNegotiation(t *testing.T) {
	f := newFixture(t, nil)
	c := &client{t: t, session: f.server.NewSession("test")}
	defer c.session.Close()

	requireError(t, c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "queen"}),
		secure9p.ErrorInvalid, "version required")

	unknown := c.call(secure9p.Tversion{MaxSize: 4096, Version: "9P2000"})
	if got, ok := unknown.(secure9p.Rversion); !ok || got.Version != secure9p.UnknownVersion {
		t.Fatalf("unknown version: got %#v, want Rversion{unknown}", unknown)
	}

	requireError(t, c.call(secure9p.Tversion{MaxSize: 100, Version: secure9p.ProtocolVersion}),
		secure9p.ErrorInvalid, "below minimum")

	negotiated := c.call(secure9p.Tversion{MaxSize: 65536, Version: secure9p.ProtocolVersion})
	if got, ok := negotiated.(secure9p.Rversion); !ok || got.MaxSize != secure9p.DefaultMaxMessageSize {
		t.Fatalf("negotiated: got %#v, want msize %d", negotiated, secure9p.DefaultMaxMessageSize)
	}
	if got := c.session.MaxMessageSize(); got != secure9p.DefaultMaxMessageSize {
		t.Errorf("session msize: got %d, want %d", got, secure9p.DefaultMaxMessageSize)
	}

	if response := c.call(secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "queen"}); !isType[secure9p.Rattach](response) {
		t.Fatalf("attach: got %#v", response)
	}
	requireError(t, c.call(secure9p.Tversion{MaxSize: 4096, Version: secure9p.ProtocolVersion}),
		secure9p.ErrorInvalid, "version after attach")
	requireError(t, c.call(secure9p.Tattach{Fid: 5, AuthFid: secure9p.NoFid, Uname: "queen"}),
		secure9p.ErrorInvalid, "already attached")
}

func TestFidLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	c := f.attach(ticket.RoleQueen, "")

	requireError(t, c.read(99, 0, 10), secure9p.ErrorInvalid, "unknown fid")

	fid := c.open("/proc/lifecycle/state", secure9p.OpenRead)
	requireError(t, c.call(secure9p.Topen{Fid: fid, Mode: secure9p.OpenRead}), secure9p.ErrorInvalid, "already open")
	requireError(t, c.call(secure9p.Twalk{Fid: fid, NewFid: 50}), secure9p.ErrorInvalid, "open fid")

	if response := c.call(secure9p.Tclunk{Fid: fid}); !isType[secure9p.Rclunk](response) {
		t.Fatalf("clunk: got %#v", response)
	}
	requireError(t, c.read(fid, 0, 10), secure9p.ErrorClosed, "fid retired")
	requireError(t, c.call(secure9p.Tclunk{Fid: fid}), secure9p.ErrorClosed, "fid retired")

	requireError(t, c.call(secure9p.Twalk{Fid: rootFid, NewFid: rootFid + 100, Names: []string{"missing"}}),
		secure9p.ErrorNotFound, "not found")

	second, _ := c.walk("/proc")
	requireError(t, c.call(secure9p.Twalk{Fid: rootFid, NewFid: second}), secure9p.ErrorBusy, "fid in use")
}

func TestOpenModes(t *testing.T) {
	f := newFixture(t, nil)
	c := f.attach(ticket.RoleQueen, "")

	directory, _ := c.walk("/proc")
	requireError(t, c.call(secure9p.Topen{Fid: directory, Mode: secure9p.OpenWrite}), secure9p.ErrorInvalid, "is a directory")

	readOnly, _ := c.walk("/proc/lifecycle/state")
	requireError(t, c.call(secure9p.Topen{Fid: readOnly, Mode: secure9p.OpenWrite}), secure9p.ErrorPermission, "read-only")

	control := c.open(pathQueenCtl, secure9p.OpenWrite)
	requireError(t, c.read(control, 0, 10), secure9p.ErrorInvalid, "not open for reading")

	opened, _ := c.walk("/proc/9p/sessions")
	response := c.call(secure9p.Topen{Fid: opened, Mode: secure9p.OpenRead})
	if got, ok := response.(secure9p.Ropen); !ok || got.IOUnit != secure9p.DefaultMaxMessageSize-secure9p.ReadOverhead {
		t.Errorf("open: got %#v, want iounit %d", response, secure9p.DefaultMaxMessageSize-secure9p.ReadOverhead)
	}
}

func TestMalformedFrameAnswered(t *testing.T) {
	f := newFixture(t, nil)
	c := f.connect()

	valid, err := secure9p.Encode(secure9p.Frame{Tag: 1, Message: secure9p.Tclunk{Fid: 7}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	response, err := secure9p.Encode(secure9p.Frame{Tag: 2, Message: secure9p.Rclunk{}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded, err := c.session.Exchange(append(valid, response...))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	responses := decodeResponses(t, encoded)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	requireError(t, responses[0].Message, secure9p.ErrorInvalid, "not attached")
	requireError(t, responses[1].Message, secure9p.ErrorInvalid, "not a request")
}

func TestLifecycleGates(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")
	telemetryFid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)

	queen.control(pathLifecycleCtl, "cordon\n")
	if got := queen.readFile("/proc/lifecycle/state"); got != "draining\n" {
		t.Errorf("state: got %q, want %q", got, "draining\n")
	}
	if got := queen.readFile("/proc/lifecycle/reason"); got != "command cordon\n" {
		t.Errorf("reason: got %q, want %q", got, "command cordon\n")
	}

	ctl := queen.open(pathQueenCtl, secure9p.OpenWrite)
	requireError(t, queen.write(ctl, 0, spawnHeartbeat), secure9p.ErrorBusy, "lifecycle gate new-work denied")

	// Draining still admits worker telemetry.
	worker.mustWrite(telemetryFid, telemetry.AppendAtEnd, "late\n")

	attaching := f.connect()
	requireError(t, attaching.call(secure9p.Tattach{
		Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "worker-heartbeat",
		Aname: f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-1"),
	}), secure9p.ErrorBusy, "lifecycle gate worker-attach denied")

	if got := f.server.Metrics().Snapshot().GateDenies; got != 2 {
		t.Errorf("gate denies: got %d, want 2", got)
	}

	lifecycle := queen.open(pathLifecycleCtl, secure9p.OpenWrite)
	requireError(t, queen.write(lifecycle, 0, "cordon"), secure9p.ErrorInvalid, "invalid transition")
	requireError(t, queen.write(lifecycle, 0, "explode"), secure9p.ErrorInvalid, "unknown command")

	queen.mustWrite(lifecycle, 0, "resume")
	queen.mustWrite(ctl, 0, spawnHeartbeat)
	if got := queen.readFile("/proc/lifecycle/state"); got != "online\n" {
		t.Errorf("state after resume: got %q, want %q", got, "online\n")
	}
}

func TestLifecycleRefusesWithLeases(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, `{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":1024,"streams":1,"ttl_s":60,"priority":1}}`)

	lifecycle := queen.open(pathLifecycleCtl, secure9p.OpenWrite)
	requireError(t, queen.write(lifecycle, 0, "quiesce"), secure9p.ErrorBusy, "1 outstanding leases")
	if got := queen.readFile("/proc/lifecycle/state"); got != "online\n" {
		t.Errorf("state: got %q, want %q", got, "online\n")
	}

	queen.control(pathQueenCtl, `{"kill":"worker-1"}`)
	queen.mustWrite(lifecycle, 0, "quiesce")
	if got := queen.readFile("/proc/lifecycle/state"); got != "quiesced\n" {
		t.Errorf("state: got %q, want %q", got, "quiesced\n")
	}
}

func TestGPUJobGate(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, `{"spawn":"gpu","lease":{"gpu_id":"gpu0","mem_mb":512,"streams":2,"ttl_s":30,"priority":0}}`)
	worker := f.attach(ticket.RoleWorkerGPU, f.workerTicket(ticket.RoleWorkerGPU, "worker-1"))

	job := worker.open("/worker/worker-1/job", secure9p.OpenWrite)
	worker.mustWrite(job, 0, "run kernel\n")

	queen.control(pathLifecycleCtl, "cordon")
	requireError(t, worker.write(job, telemetry.AppendAtEnd, "more\n"), secure9p.ErrorBusy, "lifecycle gate worker-job denied")

	if got := queen.readFile("/worker/worker-1/job"); got != "run kernel\n" {
		t.Errorf("job: got %q, want %q", got, "run kernel\n")
	}
	status := queen.readFile("/worker/worker-1/status")
	for _, want := range []string{"kind=gpu", "gpu=gpu0", "mem_mb=512"} {
		if !strings.Contains(status, want) {
			t.Errorf("status %q missing %q", status, want)
		}
	}
}

func TestBandwidthQuota(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, spawnHeartbeat)
	worker := f.attach(ticket.RoleWorkerHeartbeat, f.mint(&ticket.Claims{
		ID:       "metered",
		Role:     ticket.RoleWorkerHeartbeat,
		Subject:  "worker-1",
		Scopes:   []ticket.Scope{{PathPrefix: "/worker/worker-1", Verb: ticket.VerbReadWrite}},
		Quotas:   ticket.Quotas{BandwidthBytes: ticket.Uint64(6)},
		IssuedAt: f.clock.Now().Unix(),
	}))

	fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	worker.mustWrite(fid, 0, "abcd")
	requireError(t, worker.write(fid, 4, "efg"), secure9p.ErrorTooBig, "ELIMIT bandwidth")

	if got := f.server.telemetry.Ring("worker-1").Window().Next; got != 4 {
		t.Errorf("ring next after denial: got %d, want 4", got)
	}
	if got := f.server.Metrics().Snapshot().UIDenies; got != 1 {
		t.Errorf("ui denies: got %d, want 1", got)
	}
}

func TestRejectedWritesAreNotCharged(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, `{"spawn":"heartbeat","ticks":1,"budget":{"ops":1}}`)
	worker := f.attach(ticket.RoleWorkerHeartbeat, f.mint(&ticket.Claims{
		ID:       "metered",
		Role:     ticket.RoleWorkerHeartbeat,
		Subject:  "worker-1",
		Scopes:   []ticket.Scope{{PathPrefix: "/worker/worker-1", Verb: ticket.VerbReadWrite}},
		Quotas:   ticket.Quotas{BandwidthBytes: ticket.Uint64(8)},
		IssuedAt: f.clock.Now().Unix(),
	}))

	fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	requireError(t, worker.write(fid, 99, "abcdefgh"), secure9p.ErrorInvalid, "offset mismatch")
	if got := worker.session.enforcer.Usage(); got != (ticket.Usage{}) {
		t.Errorf("usage after rejected write: got %+v, want none", got)
	}
	if got := queen.readFile("/worker/worker-1/status"); !strings.Contains(got, "ops=0 ") {
		t.Errorf("status after rejected write: got %q, want ops=0", got)
	}

	worker.mustWrite(fid, 0, "abcdefgh")
	if got := worker.session.enforcer.Usage().BandwidthBytes; got != 8 {
		t.Errorf("usage after accepted write: got %d, want 8", got)
	}
	if got := queen.readFile("/worker/worker-1/status"); !strings.Contains(got, "ops=1 ") {
		t.Errorf("status after accepted write: got %q, want ops=1", got)
	}
}

func TestEmptyCursorReadIsNotAResume(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")
	writer := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	worker.mustWrite(writer, 0, "0123456789")

	observer := f.attach(ticket.RoleQueen, f.mint(&ticket.Claims{
		ID:       "poller",
		Role:     ticket.RoleQueen,
		Scopes:   []ticket.Scope{{PathPrefix: "/worker", Verb: ticket.VerbRead}},
		Quotas:   ticket.Quotas{CursorResumes: ticket.Uint64(1)},
		IssuedAt: f.clock.Now().Unix(),
	}))
	fid := observer.open("/worker/worker-1/telemetry", secure9p.OpenRead)

	for range 3 {
		if got := observer.mustRead(fid, 500, 4); got != "" {
			t.Fatalf("read past end: got %q, want empty", got)
		}
	}
	if got := observer.session.enforcer.Usage().CursorResumes; got != 0 {
		t.Errorf("resumes after empty reads: got %d, want 0", got)
	}
	if got := observer.mustRead(fid, 5, 4); got != "5678" {
		t.Errorf("resume at 5: got %q, want %q", got, "5678")
	}
}

func TestScopeDenied(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.spawnTwo(t)
	worker := f.attach(ticket.RoleWorkerHeartbeat, f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-1"))

	other := worker.open("/worker/worker-2/telemetry", secure9p.OpenRead)
	requireError(t, worker.read(other, 0, 16), secure9p.ErrorPermission, "scope")

	ctl := worker.open(pathQueenCtl, secure9p.OpenWrite)
	requireError(t, worker.write(ctl, 0, spawnHeartbeat), secure9p.ErrorPermission, "is for the queen")
}

func (c *client) spawnTwo(t *testing.T) {
	t.Helper()
	c.control(pathQueenCtl, spawnHeartbeat+"\n"+spawnHeartbeat+"\n")
}

func TestCursorResumeQuota(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")
	writer := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
	worker.mustWrite(writer, 0, "0123456789")

	observer := f.attach(ticket.RoleQueen, f.mint(&ticket.Claims{
		ID:       "observer",
		Role:     ticket.RoleQueen,
		Scopes:   []ticket.Scope{{PathPrefix: "/worker", Verb: ticket.VerbRead}},
		Quotas:   ticket.Quotas{CursorResumes: ticket.Uint64(1)},
		IssuedAt: f.clock.Now().Unix(),
		TTL:      60,
	}))
	fid := observer.open("/worker/worker-1/telemetry", secure9p.OpenRead)

	reads := []struct {
		offset uint64
		want   string
	}{
		{0, "0123"},
		{4, "4567"},
		{0, "0123"},
	}
	for _, read := range reads {
		if got := observer.mustRead(fid, read.offset, 4); got != read.want {
			t.Errorf("read at %d: got %q, want %q", read.offset, got, read.want)
		}
	}
	requireError(t, observer.read(fid, 8, 4), secure9p.ErrorTooBig, "ELIMIT cursor-resume")

	cursor, ok := f.server.telemetry.Cursor(telemetry.CursorKey{Reader: "queen", Worker: "worker-1"})
	if !ok || cursor != 4 {
		t.Errorf("cursor after denied resume: got %d %v, want 4 true", cursor, ok)
	}
	usage := observer.session.enforcer.Usage()
	if usage.CursorAdvances != 2 || usage.CursorResumes != 1 {
		t.Errorf("usage: got %+v, want 2 advances and 1 resume", usage)
	}
}

func TestStaleCursor(t *testing.T) {
	for _, test := range []struct {
		name   string
		policy telemetry.StalePolicy
	}{
		{"reject", telemetry.StaleReject},
		{"rewind", telemetry.StaleRewind},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, func(options *Options) {
				options.RingBytes = 8
				options.StalePolicy = test.policy
			})
			queen := f.attach(ticket.RoleQueen, "")
			worker := f.spawnWorker(queen, "worker-1")
			writer := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
			worker.mustWrite(writer, 0, "abcdefgh")
			worker.mustWrite(writer, 8, "ijkl")

			reader := queen.open("/worker/worker-1/telemetry", secure9p.OpenRead)
			response := queen.read(reader, 0, 16)
			if test.policy == telemetry.StaleReject {
				requireError(t, response, secure9p.ErrorInvalid, "cursor stale")
			} else if got, ok := response.(secure9p.Rread); !ok || string(got.Data) != "efghijkl" {
				t.Errorf("rewound read: got %#v, want %q", response, "efghijkl")
			}
			if got := countPrefix(f.auditLines(), "telemetry-cursor outcome=stale"); got != 1 {
				t.Errorf("stale audit lines: got %d, want 1", got)
			}
			if got := countPrefix(f.auditLines(), "telemetry-ring outcome=drop"); got != 1 {
				t.Errorf("drop audit lines: got %d, want 1", got)
			}
		})
	}
}

func TestWorkerBudget(t *testing.T) {
	t.Run("ops", func(t *testing.T) {
		f := newFixture(t, nil)
		queen := f.attach(ticket.RoleQueen, "")
		queen.control(pathQueenCtl, `{"spawn":"heartbeat","ticks":1,"budget":{"ops":2}}`)
		worker := f.attach(ticket.RoleWorkerHeartbeat, f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-1"))

		fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
		worker.mustWrite(fid, telemetry.AppendAtEnd, "a")
		worker.mustWrite(fid, telemetry.AppendAtEnd, "b")
		requireError(t, worker.write(fid, telemetry.AppendAtEnd, "c"), secure9p.ErrorTooBig, "ELIMIT worker budget")

		// The queen writing on the worker's behalf is not charged.
		queenFid := queen.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
		queen.mustWrite(queenFid, telemetry.AppendAtEnd, "q")

		if got := queen.readFile("/worker/worker-1/status"); !strings.Contains(got, "ops=2 ") {
			t.Errorf("status: got %q, want ops=2", got)
		}
	})

	t.Run("ttl", func(t *testing.T) {
		f := newFixture(t, nil)
		queen := f.attach(ticket.RoleQueen, "")
		queen.control(pathQueenCtl, `{"budget":{"ttl_s":10}}`)
		queen.control(pathQueenCtl, spawnHeartbeat)
		worker := f.attach(ticket.RoleWorkerHeartbeat, f.workerTicket(ticket.RoleWorkerHeartbeat, "worker-1"))

		fid := worker.open("/worker/worker-1/telemetry", secure9p.OpenWrite)
		worker.mustWrite(fid, telemetry.AppendAtEnd, "a")
		f.clock.Advance(11 * time.Second)
		requireError(t, worker.write(fid, telemetry.AppendAtEnd, "b"), secure9p.ErrorPermission, "worker budget expired")
	})
}

func TestQueenControl(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")

	ctl := queen.open(pathQueenCtl, secure9p.OpenWrite)
	requireError(t, queen.write(ctl, 0, `{"spawn":"heartbeat"}`), secure9p.ErrorInvalid, "requires ticks")
	requireError(t, queen.write(ctl, 0, spawnHeartbeat+"\n{nonsense"), secure9p.ErrorInvalid, "line 2")
	if got := countPrefix(f.auditLines(), "queen-ctl outcome=deny reason=parse"); got != 2 {
		t.Errorf("parse denials: got %d, want 2", got)
	}
	if f.server.tree.Exists("/worker/worker-1") {
		t.Fatal("worker spawned from a batch that failed to parse")
	}

	// Application stops at the first failing command.
	requireError(t, queen.write(ctl, 0, spawnHeartbeat+"\n"+`{"kill":"worker-7"}`+"\n"+spawnHeartbeat),
		secure9p.ErrorNotFound, "worker-7")
	if !f.server.tree.Exists("/worker/worker-1") || f.server.tree.Exists("/worker/worker-2") {
		t.Error("want worker-1 applied and nothing after the failing kill")
	}

	queen.mustWrite(ctl, 0, `{"kill":"worker-1"}`)
	if f.server.tree.Exists("/worker/worker-1") {
		t.Error("worker-1 still present after kill")
	}
	if got := queen.readFile("/worker"); got != "" {
		t.Errorf("worker directory: got %q, want empty", got)
	}
}

func TestBindAndMount(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, `{"bind":{"from":"/proc/lifecycle","to":"/queen/state"}}`+"\n"+
		`{"mount":{"service":"gpu-bridge","at":"/host/gpu/bridge"}}`)

	if got := queen.readFile("/queen/state/state"); got != "online\n" {
		t.Errorf("bound state: got %q, want %q", got, "online\n")
	}

	endpoint := queen.open("/host/gpu/bridge", secure9p.OpenWrite)
	queen.mustWrite(endpoint, namespace.AppendAtEnd, "hello\n")
	if got := queen.readFile("/host/gpu/bridge"); got != "hello\n" {
		t.Errorf("endpoint: got %q, want %q", got, "hello\n")
	}

	queen.control(pathLifecycleCtl, "cordon")
	requireError(t, queen.write(endpoint, namespace.AppendAtEnd, "again\n"), secure9p.ErrorBusy, "lifecycle gate host-publish denied")
}

func TestSegments(t *testing.T) {
	f := newFixture(t, func(options *Options) {
		options.Segments = telemetry.SegmentLimits{
			MaxSegmentsPerDevice:   2,
			MaxBytesPerSegment:     8,
			MaxTotalBytesPerDevice: 64,
			Policy:                 telemetry.EvictOldest,
		}
	})
	queen := f.attach(ticket.RoleQueen, "")
	worker := f.spawnWorker(queen, "worker-1")

	worker.control("/worker/worker-1/segments/ctl", "new")
	segment := worker.open("/worker/worker-1/segments/seg-000001", secure9p.OpenWrite)
	worker.mustWrite(segment, 0, "rec1")
	worker.mustWrite(segment, 0, "rec2")
	requireError(t, worker.write(segment, 0, "x"), secure9p.ErrorTooBig, "quota exceeded")

	if got := worker.readFile("/worker/worker-1/segments/index"); got != "seg-000001 bytes=8 records=2\n" {
		t.Errorf("index: got %q", got)
	}
	if got := worker.readFile("/worker/worker-1/segments/seg-000001"); got != "rec1rec2" {
		t.Errorf("segment: got %q, want %q", got, "rec1rec2")
	}

	worker.control("/worker/worker-1/segments/ctl", "new")
	worker.control("/worker/worker-1/segments/ctl", "new")
	if f.server.tree.Exists("/worker/worker-1/segments/seg-000001") {
		t.Error("oldest segment file survived eviction")
	}
	if got := countPrefix(f.auditLines(), "telemetry-segment outcome=evict"); got != 1 {
		t.Errorf("eviction audit lines: got %d, want 1", got)
	}

	ctl := worker.open("/worker/worker-1/segments/ctl", secure9p.OpenWrite)
	requireError(t, worker.write(ctl, 0, "rotate"), secure9p.ErrorInvalid, "segment command")
}

func TestReplay(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")

	var status replay.Status
	if err := json.Unmarshal([]byte(queen.readFile(pathReplayStatus)), &status); err != nil {
		t.Fatalf("decoding idle status: %v", err)
	}
	if status.State != replay.StateIdle {
		t.Errorf("initial state: got %s, want idle", status.State)
	}

	queen.spawnTwo(t)
	queen.control(pathReplayCtl, `{"from":0}`)
	if err := json.Unmarshal([]byte(queen.readFile(pathReplayStatus)), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.State != replay.StateOK || status.Entries != 2 || !status.Match || status.To != 2 {
		t.Errorf("replay: got %+v, want ok with 2 matching entries", status)
	}

	queen.control(pathReplayCtl, `{"from":9}`)
	if err := json.Unmarshal([]byte(queen.readFile(pathReplayStatus)), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.State != replay.StateErr || status.Match {
		t.Errorf("out of window replay: got %+v, want err", status)
	}

	ctl := queen.open(pathReplayCtl, secure9p.OpenWrite)
	requireError(t, queen.write(ctl, 0, `{"to":1}`), secure9p.ErrorInvalid, "invalid command")
}

func TestProcFiles(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	f.spawnWorker(queen, "worker-1")

	sessions := queen.readFile("/proc/9p/sessions")
	if !strings.HasPrefix(sessions, "sessions 2\n") || !strings.Contains(sessions, "role=worker-heartbeat subject=worker-1") {
		t.Errorf("sessions: got %q", sessions)
	}

	var view sessionsView
	if err := codec.Unmarshal([]byte(queen.readFile("/proc/9p/sessions.cbor")), &view); err != nil {
		t.Fatalf("decoding sessions.cbor: %v", err)
	}
	if view.Count != 2 || view.Sessions[0].Role != "queen" {
		t.Errorf("sessions.cbor: got %+v", view)
	}

	// The read itself is the one outstanding request.
	if got := queen.readFile("/proc/9p/outstanding"); got != "queue_depth 1\nqueue_limit 64\n" {
		t.Errorf("outstanding: got %q", got)
	}
	if got := queen.readFile("/proc/9p/short_writes"); got != "short_writes 0\nshort_write_retries 0\n" {
		t.Errorf("short_writes: got %q", got)
	}
	if got := queen.readFile("/proc/ingest/backpressure"); got != "0\n" {
		t.Errorf("backpressure: got %q", got)
	}
	if got := queen.readFile("/proc/ingest/watch"); !strings.HasPrefix(got, "p50_ms=0.000 p95_ms=0.000 backpressure=0") {
		t.Errorf("watch: got %q", got)
	}

	var watch watchView
	if err := codec.Unmarshal([]byte(queen.readFile("/proc/ingest/watch.cbor")), &watch); err != nil {
		t.Fatalf("decoding watch.cbor: %v", err)
	}
	if watch.Queued != 1 || watch.Batches == 0 {
		t.Errorf("watch.cbor: got %+v", watch)
	}

	if got := queen.readFile("/proc/lifecycle/since"); got != epoch.Format(time.RFC3339Nano)+"\n" {
		t.Errorf("since: got %q", got)
	}

	listing := queen.readFile("/proc/9p")
	for _, name := range []string{"sessions", "sessions.cbor", "outstanding", "short_writes"} {
		if !strings.Contains("\n"+listing, "\n"+name+"\n") {
			t.Errorf("/proc/9p listing %q missing %s", listing, name)
		}
	}
}

func TestAuditLogFile(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	queen.control(pathQueenCtl, spawnHeartbeat)

	log := queen.readFile(pathAuditLog)
	if !strings.Contains(log, "lifecycle outcome=transition from=booting to=online") {
		t.Errorf("audit log missing boot transition: %q", log)
	}
	if !strings.Contains(log, "queen-ctl outcome=allow session=1 command=spawn seq=0 worker=worker-1") {
		t.Errorf("audit log missing spawn: %q", log)
	}

	fid, _ := queen.walk(pathAuditLog)
	requireError(t, queen.call(secure9p.Topen{Fid: fid, Mode: secure9p.OpenWrite}), secure9p.ErrorPermission, "read-only")
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	queen := f.attach(ticket.RoleQueen, "")
	f.connect()
	if got := f.server.SessionCount(); got != 2 {
		t.Fatalf("sessions: got %d, want 2", got)
	}

	if err := f.server.Shutdown("signal"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := f.server.SessionCount(); got != 0 {
		t.Errorf("sessions after shutdown: got %d, want 0", got)
	}
	if got := f.server.Lifecycle().State().String(); got != "offline" {
		t.Errorf("state: got %s, want offline", got)
	}
	if got := f.server.Metrics().Snapshot().Sessions; got != 0 {
		t.Errorf("session gauge: got %d, want 0", got)
	}
	requireError(t, queen.read(rootFid, 0, 1), secure9p.ErrorClosed, "fid retired")
}
