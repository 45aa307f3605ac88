package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// clock is a manually advanced time source shared by every component.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ── Fake collaborators ───────────────────────────────────────────────────────

type fakeRecognizer struct {
	mu    sync.Mutex
	plate visit.PlateReading
	id    visit.IDReading
	err   error
}

func (f *fakeRecognizer) RecognizePlate(context.Context, string, string) (visit.PlateReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plate, f.err
}

func (f *fakeRecognizer) RecognizeID(context.Context, string, string) (visit.IDReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.err
}

func (f *fakeRecognizer) set(plate visit.PlateReading, id visit.IDReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plate, f.id = plate, id
}

type fakeGate struct {
	mu     sync.Mutex
	refuse bool
	calls  []string
}

func (f *fakeGate) OpenGate(ctx context.Context, propertyID, doorID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, propertyID+"/"+doorID+":"+reason)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return !f.refuse, nil
}

func (f *fakeGate) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []service.Notification
}

func (f *fakeNotifier) NotifyResident(_ context.Context, n service.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errors.New("relay unavailable")
	}
	f.sent = append(f.sent, n)
	return true, nil
}

func (f *fakeNotifier) Sent() []service.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.Notification(nil), f.sent...)
}

type fakeEscalator struct {
	mu   sync.Mutex
	seen []service.Escalation
}

// ctxEvents refuses writes on a finished context, as the sqlite writer does.
type ctxEvents struct {
	*memory.AccessEventStore
}

func (e ctxEvents) RecordEvent(ctx context.Context, rec store.AccessEventRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return e.AccessEventStore.RecordEvent(ctx, rec)
}

// brokenDoors records nothing about sightings.
type brokenDoors struct {
	*memory.DoorStore
}

func (brokenDoors) MarkSeen(context.Context, string, string, bool, time.Time) error {
	return errors.New("disk full")
}

func (f *fakeEscalator) Escalate(_ context.Context, e service.Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, e)
	return nil
}

// ── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	svc        *service.VisitService
	clock      *clock
	dir        *memory.Directory
	pending    *memory.PendingStore
	events     *memory.AccessEventStore
	recognizer *fakeRecognizer
	gate       *fakeGate
	notifier   *fakeNotifier
	logs       *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := newClock()
	h := &harness{
		clock:      clk,
		dir:        memory.NewDirectory(),
		pending:    memory.NewPendingStore(clk.Now),
		events:     memory.NewAccessEventStore(),
		recognizer: &fakeRecognizer{},
		gate:       &fakeGate{},
		notifier:   &fakeNotifier{},
		logs:       &syncBuffer{},
	}
	h.dir.AddResident(store.ResidentRecord{
		PropertyID: "prop-1",
		ResidentID: "r-1",
		Name:       "Ana Mora",
		Phone:      "+506 8888-1234",
		Unit:       "101",
	})
	h.svc = h.newService(knownDoors(), h.gate, h.events)
	return h
}

func knownDoors() *memory.DoorStore {
	return memory.NewDoorStore([]string{"prop-1/gate-main"})
}

// newService builds a service over h's directory and pending store. Two
// services built this way behave like two gate processes sharing one
// pending backend.
func (h *harness) newService(doors store.DoorStore, gate service.GateController, events store.AccessEventStore) *service.VisitService {
	return service.NewVisitService(service.Deps{
		Doors:      service.NewDoorRegistry(doors),
		Vehicles:   h.dir,
		Visitors:   h.dir,
		Residents:  h.dir,
		Pending:    h.pending,
		Events:     events,
		Recognizer: h.recognizer,
		Gate:       gate,
		Notifier:   h.notifier,
		Logger:     log.New(h.logs, "", 0),
		Now:        h.clock.Now,
	}, service.VisitConfig{})
}

func (h *harness) sweeper(cfg service.SweeperConfig, esc service.Escalator) *service.ExpirySweeper {
	cfg.Now = h.clock.Now
	return service.NewExpirySweeper(h.pending, h.svc.Registry(), esc, cfg, silentLogger())
}

func (h *harness) arrive(t *testing.T, name, unit string) visit.Snapshot {
	t.Helper()
	resp, err := h.svc.Arrive(context.Background(), types.ArrivalRequest{
		PropertyID:  "prop-1",
		DoorID:      "gate-main",
		CameraID:    "cam-1",
		VisitorName: name,
		Unit:        unit,
	})
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	return resp.Visit
}

func (h *harness) get(t *testing.T, id string) visit.Snapshot {
	t.Helper()
	snap, err := h.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return snap
}

// eventsFor returns the audit records written for one session.
func (h *harness) eventsFor(sessionID string) []store.AccessEventRecord {
	var out []store.AccessEventRecord
	for _, ev := range h.events.Events() {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}
