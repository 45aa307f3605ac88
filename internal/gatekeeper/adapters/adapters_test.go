package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// recorder is a fake upstream that remembers the last JSON body per path.
type recorder struct {
	mu     sync.Mutex
	bodies map[string]map[string]any
	reply  map[string]any
	status int
}

func newUpstream(t *testing.T, reply map[string]any) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{bodies: make(map[string]map[string]any), reply: reply, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		rec.mu.Lock()
		rec.bodies[r.URL.Path] = body
		status := rec.status
		rec.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "upstream broke", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func (r *recorder) body(path string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[path]
}

// ── Recognition ──────────────────────────────────────────────────────────────

func TestHTTPRecognizer_Plate(t *testing.T) {
	srv, rec := newUpstream(t, map[string]any{
		"plate": "ABC123", "confidence": 0.93, "vehicle_type": "sedan", "snapshot_url": "https://cdn/x.jpg",
	})
	r := NewHTTPRecognizer(srv.URL+"/", nil)

	got, err := r.RecognizePlate(context.Background(), "prop-1", "cam-1")
	if err != nil {
		t.Fatalf("RecognizePlate: %v", err)
	}
	if got.Plate != "ABC123" || got.Confidence != 0.93 || got.VehicleType != "sedan" || got.SnapshotURL != "https://cdn/x.jpg" {
		t.Errorf("unexpected reading: %+v", got)
	}
	if body := rec.body("/v1/recognize/plate"); body["camera_id"] != "cam-1" || body["property_id"] != "prop-1" {
		t.Errorf("unexpected request body: %v", body)
	}
}

func TestHTTPRecognizer_ID(t *testing.T) {
	srv, _ := newUpstream(t, map[string]any{"id_number": "1-2345-6789", "confidence": 0.8, "name": "Juan Perez"})
	r := NewHTTPRecognizer(srv.URL, nil)

	got, err := r.RecognizeID(context.Background(), "prop-1", "cam-1")
	if err != nil {
		t.Fatalf("RecognizeID: %v", err)
	}
	if got.IDNumber != "1-2345-6789" || got.Name != "Juan Perez" {
		t.Errorf("unexpected reading: %+v", got)
	}
}

func TestHTTPRecognizer_UpstreamError(t *testing.T) {
	srv, rec := newUpstream(t, nil)
	rec.status = http.StatusBadGateway
	r := NewHTTPRecognizer(srv.URL, nil)

	_, err := r.RecognizePlate(context.Background(), "prop-1", "cam-1")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if !strings.Contains(se.Body, "upstream broke") {
		t.Errorf("expected body in error, got %q", se.Body)
	}
}

func TestAdapters_NotConfigured(t *testing.T) {
	if _, err := NewHTTPRecognizer("", nil).RecognizePlate(context.Background(), "p", "c"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewHTTPGate("  ", nil).OpenGate(context.Background(), "p", "d", "r"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

// ── Gate ─────────────────────────────────────────────────────────────────────

func TestHTTPGate_OpenGate(t *testing.T) {
	srv, rec := newUpstream(t, map[string]any{"opened": true})
	g := NewHTTPGate(srv.URL, nil)

	opened, err := g.OpenGate(context.Background(), "prop-1", "gate-main", "resident_approved")
	if err != nil || !opened {
		t.Fatalf("OpenGate: opened=%v err=%v", opened, err)
	}
	if body := rec.body("/v1/gates/open"); body["door_id"] != "gate-main" || body["reason"] != "resident_approved" {
		t.Errorf("unexpected request body: %v", body)
	}
}

func TestHTTPGate_Refused(t *testing.T) {
	srv, _ := newUpstream(t, map[string]any{"opened": false})
	opened, err := NewHTTPGate(srv.URL, nil).OpenGate(context.Background(), "prop-1", "gate-main", "operator")
	if err != nil || opened {
		t.Errorf("expected refusal without error, got opened=%v err=%v", opened, err)
	}
}

func TestHTTPGate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	g := NewHTTPGate(srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	if _, err := g.OpenGate(context.Background(), "prop-1", "gate-main", "operator"); err == nil {
		t.Fatal("expected timeout error")
	}
}

// ── Relay ────────────────────────────────────────────────────────────────────

func TestRelayNotifier_NotifyResident(t *testing.T) {
	srv, rec := newUpstream(t, map[string]any{"accepted": true, "message_id": "m-1"})
	n := NewRelayNotifier(srv.URL, nil)

	sent, err := n.NotifyResident(context.Background(), service.Notification{
		SessionID: "s-1", Phone: "+50688881234", Unit: "101", VisitorName: "Daisy Colorado",
	})
	if err != nil || !sent {
		t.Fatalf("NotifyResident: sent=%v err=%v", sent, err)
	}
	body := rec.body("/v1/messages")
	if body["to"] != "+50688881234" || body["template"] != "visitor_authorization" || body["session_id"] != "s-1" {
		t.Errorf("unexpected relay message: %v", body)
	}
}

func TestRelayNotifier_RequiresPhone(t *testing.T) {
	srv, _ := newUpstream(t, map[string]any{"accepted": true})
	if sent, err := NewRelayNotifier(srv.URL, nil).NotifyResident(context.Background(), service.Notification{}); err == nil || sent {
		t.Errorf("expected error for empty phone, got sent=%v err=%v", sent, err)
	}
}

func TestOperatorEscalator(t *testing.T) {
	srv, rec := newUpstream(t, map[string]any{"accepted": true})
	esc := NewOperatorEscalator(NewRelayNotifier(srv.URL, nil), "+50622220000")

	err := esc.Escalate(context.Background(), service.Escalation{
		SessionID: "s-1", Unit: "101", VisitorName: "Daisy", WaitingSince: time.Now().Add(-2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	body := rec.body("/v1/messages")
	if body["to"] != "+50622220000" || body["template"] != "operator_escalation" {
		t.Errorf("unexpected escalation message: %v", body)
	}

	if err := NewOperatorEscalator(NewRelayNotifier(srv.URL, nil), "").Escalate(context.Background(), service.Escalation{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured without operator phone, got %v", err)
	}
}

// ── Fanout ───────────────────────────────────────────────────────────────────

type stubNotifier struct {
	sent  bool
	err   error
	calls int
}

func (s *stubNotifier) NotifyResident(context.Context, service.Notification) (bool, error) {
	s.calls++
	return s.sent, s.err
}

func TestFanoutNotifier_FallsThrough(t *testing.T) {
	first := &stubNotifier{err: errors.New("relay down")}
	second := &stubNotifier{sent: true}
	third := &stubNotifier{sent: true}
	f := NewFanoutNotifier(log.New(io.Discard, "", 0), first, second, third)

	sent, err := f.NotifyResident(context.Background(), service.Notification{SessionID: "s-1"})
	if err != nil || !sent {
		t.Fatalf("expected second channel to deliver, got sent=%v err=%v", sent, err)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Errorf("unexpected calls: %d %d %d", first.calls, second.calls, third.calls)
	}
}

func TestFanoutNotifier_AllFail(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	f := NewFanoutNotifier(log.New(io.Discard, "", 0), &stubNotifier{err: errA}, &stubNotifier{err: errB})

	sent, err := f.NotifyResident(context.Background(), service.Notification{})
	if sent {
		t.Fatal("expected nothing sent")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected joined errors, got %v", err)
	}
}
