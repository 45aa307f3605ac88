package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

var (
	ErrInvalidPropertyID = errors.New("property_id is required")
	ErrInvalidDoorID     = errors.New("door_id is required")
)

const (
	reasonUnknownDoor   = "unknown_door"
	reasonAwaitFailed   = "pending_registration_failed"
	reasonSuspendFailed = "suspend_failed"
)

// VisitConfig tunes the automatic checks.
type VisitConfig struct {
	PlateConfidence float64 // default 0.80
	IDConfidence    float64 // default 0.70
	MaxVariations   int     // default identity.DefaultMaxVariations

	// CompletionTimeout bounds the gate command and audit write that
	// finish a resumed or expired visit. Default 30s.
	CompletionTimeout time.Duration
}

// Deps are the stores and collaborators a VisitService drives.
type Deps struct {
	Doors     *DoorRegistry
	Vehicles  store.VehicleStore
	Visitors  store.VisitorStore
	Residents store.ResidentStore
	Pending   store.PendingStore
	Events    store.AccessEventStore

	Recognizer Recognizer
	Gate       GateController
	Notifier   Notifier

	Logger *log.Logger
	Now    func() time.Time // defaults to time.Now
}

// VisitService runs visits from arrival to a decision. It owns the
// session registry and the correlator that resumes suspended visits.
type VisitService struct {
	deps       Deps
	cfg        VisitConfig
	registry   *SessionRegistry
	correlator *Correlator
	logger     *log.Logger
	now        func() time.Time
}

func NewVisitService(deps Deps, cfg VisitConfig) *VisitService {
	if cfg.PlateConfidence <= 0 {
		cfg.PlateConfidence = 0.80
	}
	if cfg.IDConfidence <= 0 {
		cfg.IDConfidence = 0.70
	}
	if cfg.MaxVariations <= 0 {
		cfg.MaxVariations = identity.DefaultMaxVariations
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 30 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	svc := &VisitService{deps: deps, cfg: cfg, logger: logger, now: now}
	svc.registry = newSessionRegistry(svc)
	svc.correlator = newCorrelator(deps.Pending, svc.registry, cfg.MaxVariations, logger, now)
	return svc
}

func (s *VisitService) Registry() *SessionRegistry { return s.registry }
func (s *VisitService) Correlator() *Correlator    { return s.correlator }

// Arrive handles a visitor at a door and runs the visit as far as it can
// go without a human: to a terminal step, or suspended waiting for the
// resident.
func (s *VisitService) Arrive(ctx context.Context, req types.ArrivalRequest) (types.VisitResponse, error) {
	propertyID := strings.TrimSpace(req.PropertyID)
	doorID := strings.TrimSpace(req.DoorID)
	if propertyID == "" {
		return types.VisitResponse{}, ErrInvalidPropertyID
	}
	if doorID == "" {
		return types.VisitResponse{}, ErrInvalidDoorID
	}

	known, err := s.deps.Doors.IsKnown(ctx, propertyID, doorID)
	if err != nil {
		return types.VisitResponse{}, err
	}
	if err := s.deps.Doors.NoteSeen(ctx, propertyID, doorID, known); err != nil {
		s.logger.Printf("door %s/%s: note seen failed: %v", propertyID, doorID, err)
	}

	sess := visit.New(visit.Params{
		PropertyID: propertyID,
		DoorID:     doorID,
		CameraID:   req.CameraID,
		Now:        s.now,
	})

	if !known {
		_ = sess.Fail(reasonUnknownDoor)
		s.finish(ctx, sess)
		return s.response(sess, false), nil
	}

	release, err := s.registry.Track(sess)
	if err != nil {
		return types.VisitResponse{}, err
	}
	defer release()

	s.run(ctx, sess, req)
	return s.response(sess, true), nil
}

func (s *VisitService) response(sess *visit.Session, known bool) types.VisitResponse {
	snap := sess.Snapshot()
	return types.VisitResponse{
		OK:         known && snap.Step != visit.StepError,
		Known:      known,
		Reason:     snap.DenialReason,
		Visit:      snap,
		ServerTime: s.now().UTC().Format(time.RFC3339Nano),
	}
}

// run applies the decision priority: authorized plate, pre-authorized ID,
// pre-authorized name, then the resident. sess is locked by the caller.
func (s *VisitService) run(ctx context.Context, sess *visit.Session, req types.ArrivalRequest) {
	propertyID := sess.PropertyID()

	if err := sess.BeginRecognition(); err != nil {
		s.fail(ctx, sess, visit.ReasonRecognitionFailed, err)
		return
	}
	plate, err := s.deps.Recognizer.RecognizePlate(ctx, propertyID, sess.CameraID())
	if err != nil {
		s.logger.Printf("session %s: plate recognition failed: %v", sess.ID(), err)
		plate = visit.PlateReading{}
	}
	lookup, err := sess.ApplyPlate(plate, s.cfg.PlateConfidence)
	if err != nil {
		s.fail(ctx, sess, visit.ReasonRecognitionFailed, err)
		return
	}
	if lookup {
		if err := sess.ApplyVehicleMatch(s.vehicleParty(ctx, sess)); err != nil {
			s.fail(ctx, sess, visit.ReasonLookupFailed, err)
			return
		}
		if sess.Step() == visit.StepDecided {
			s.complete(ctx, sess)
			return
		}
	}

	if err := sess.ApplyConversation(visit.Destination{VisitorName: req.VisitorName, Unit: req.Unit}); err != nil {
		s.fail(ctx, sess, visit.ReasonRecognitionFailed, err)
		return
	}

	id, err := s.deps.Recognizer.RecognizeID(ctx, propertyID, sess.CameraID())
	if err != nil {
		s.logger.Printf("session %s: ID recognition failed: %v", sess.ID(), err)
		id = visit.IDReading{}
	}
	confident, err := sess.ApplyIDReading(id, s.cfg.IDConfidence)
	if err != nil {
		s.fail(ctx, sess, visit.ReasonRecognitionFailed, err)
		return
	}
	if err := sess.ApplyPreAuthorization(s.visitorParty(ctx, sess, confident)); err != nil {
		s.fail(ctx, sess, visit.ReasonLookupFailed, err)
		return
	}
	if sess.Step() == visit.StepDecided {
		s.complete(ctx, sess)
		return
	}

	resident, found, err := s.deps.Residents.LookupResident(ctx, propertyID, sess.Unit())
	if err != nil {
		s.logger.Printf("session %s: resident lookup failed: %v", sess.ID(), err)
		found = false
	}
	party := visit.Party{
		ResidentID:    resident.ResidentID,
		ResidentName:  resident.Name,
		ResidentPhone: resident.Phone,
	}
	if err := sess.ApplyResident(party, found); err != nil {
		s.fail(ctx, sess, visit.ReasonLookupFailed, err)
		return
	}
	if sess.Step() == visit.StepDecided {
		s.complete(ctx, sess)
		return
	}

	if sess.NeedsNotification() {
		sent, err := s.deps.Notifier.NotifyResident(ctx, Notification{
			SessionID:   sess.ID(),
			PropertyID:  propertyID,
			Phone:       sess.ResidentPhone(),
			Unit:        sess.Unit(),
			VisitorName: sess.VisitorName(),
			EvidenceURL: sess.EvidenceURL(),
		})
		if err != nil {
			s.logger.Printf("session %s: notify resident failed: %v", sess.ID(), err)
			sent = false
		}
		if err := sess.ApplyNotification(sent); err != nil {
			s.fail(ctx, sess, visit.ReasonNotificationFailed, err)
			return
		}
		if sess.Terminal() {
			s.finish(ctx, sess)
			return
		}
	}

	if _, err := s.correlator.Await(ctx, sess); err != nil {
		s.fail(ctx, sess, reasonAwaitFailed, err)
		return
	}
	if err := sess.Suspend(); err != nil {
		_ = s.correlator.Release(ctx, sess.ID())
		s.fail(ctx, sess, reasonSuspendFailed, err)
	}
}

func (s *VisitService) vehicleParty(ctx context.Context, sess *visit.Session) visit.Party {
	v, found, err := s.deps.Vehicles.LookupVehicle(ctx, sess.PropertyID(), sess.Plate())
	if err != nil {
		s.logger.Printf("session %s: vehicle lookup failed: %v", sess.ID(), err)
		return visit.Party{}
	}
	if !found || !v.Active {
		return visit.Party{}
	}
	return visit.Party{
		Authorized:   true,
		ResidentID:   v.ResidentID,
		ResidentName: v.ResidentName,
		Unit:         v.Unit,
	}
}

// visitorParty checks the document first, then the visitor's name against
// the unit's pre-authorized guests.
func (s *VisitService) visitorParty(ctx context.Context, sess *visit.Session, idConfident bool) visit.Party {
	at := s.now().UTC()
	if idConfident {
		p, found, err := s.deps.Visitors.LookupPreAuthorization(ctx, sess.PropertyID(), sess.IDNumber(), at)
		if err != nil {
			s.logger.Printf("session %s: pre-authorization lookup failed: %v", sess.ID(), err)
		} else if found {
			return preAuthParty(p)
		}
	}

	if identity.NormalizeName(sess.VisitorName()) == "" || identity.NormalizeUnit(sess.Unit()) == "" {
		return visit.Party{}
	}
	list, err := s.deps.Visitors.ListPreAuthorizations(ctx, sess.PropertyID(), sess.Unit(), at)
	if err != nil {
		s.logger.Printf("session %s: pre-authorization list failed: %v", sess.ID(), err)
		return visit.Party{}
	}
	for _, p := range list {
		if identity.NamesMatch(sess.VisitorName(), p.VisitorName, s.cfg.MaxVariations) {
			return preAuthParty(p)
		}
	}
	return visit.Party{}
}

func preAuthParty(p store.PreAuthorization) visit.Party {
	return visit.Party{
		Authorized:   true,
		ResidentID:   p.ResidentID,
		ResidentName: p.ResidentName,
		Unit:         p.Unit,
	}
}

// complete carries a decided session to its terminal step.
func (s *VisitService) complete(ctx context.Context, sess *visit.Session) {
	if sess.AccessGranted() {
		s.openGate(ctx, sess)
	} else if err := sess.Deny(""); err != nil {
		s.logger.Printf("session %s: deny: %v", sess.ID(), err)
	}
	s.finish(ctx, sess)
}

// openGate commands the gate for a granted session. Reaching it without a
// grant is a programming error: it is logged as CRITICAL and the session
// is forced to access_denied without touching the gate.
func (s *VisitService) openGate(ctx context.Context, sess *visit.Session) {
	if err := sess.CheckOpenAllowed(); err != nil {
		s.invariantViolation(sess, err)
		return
	}

	snap := sess.Snapshot()
	opened, err := s.deps.Gate.OpenGate(ctx, snap.PropertyID, snap.DoorID, string(snap.AuthorizationKind))
	if err != nil {
		s.logger.Printf("session %s: open gate failed: %v", sess.ID(), err)
		opened = false
	}
	if err := sess.ApplyGateResult(opened); err != nil {
		if errors.Is(err, visit.ErrGateInvariant) {
			s.invariantViolation(sess, err)
			return
		}
		s.logger.Printf("session %s: gate result: %v", sess.ID(), err)
	}
	if !opened {
		s.logger.Printf("session %s: gate did not open", sess.ID())
	}
}

func (s *VisitService) invariantViolation(sess *visit.Session, err error) {
	s.logger.Printf("CRITICAL: %v", err)
	if derr := sess.Deny(visit.ReasonGateInvariant); derr != nil {
		_ = sess.Fail(visit.ReasonGateInvariant)
	}
}

// fail ends the session in StepError after an unexpected transition error.
func (s *VisitService) fail(ctx context.Context, sess *visit.Session, reason string, err error) {
	s.logger.Printf("session %s: %s: %v", sess.ID(), reason, err)
	if !sess.Terminal() {
		_ = sess.Fail(reason)
	}
	s.finish(ctx, sess)
}

// finish writes the audit record for a terminal session, once. A failed
// write is logged and never changes the decision.
func (s *VisitService) finish(ctx context.Context, sess *visit.Session) {
	if !sess.Terminal() || sess.AccessLogged() {
		return
	}
	rec, err := store.NewAccessEvent(sess.Snapshot())
	if err != nil {
		s.logger.Printf("session %s: encode audit: %v", sess.ID(), err)
		return
	}
	if _, err := s.deps.Events.RecordEvent(ctx, rec); err != nil {
		s.logger.Printf("session %s: audit write failed: %v", sess.ID(), err)
		return
	}
	sess.MarkLogged()
}

// detach runs the rest of a resumed visit on its own deadline. The
// callback or sweep that woke the session may end before the gate answers.
func (s *VisitService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompletionTimeout)
}

// resume implements sessionDriver. sess is locked and awaiting.
func (s *VisitService) resume(ctx context.Context, sess *visit.Session, d Decision) error {
	if err := sess.Decide(d.Granted, d.Kind, d.Reason, d.Message); err != nil {
		return err
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()
	if err := s.correlator.Release(ctx, sess.ID()); err != nil {
		s.logger.Printf("session %s: release pending: %v", sess.ID(), err)
	}
	s.complete(ctx, sess)
	return nil
}

// expire implements sessionDriver. sess is locked and not terminal.
func (s *VisitService) expire(ctx context.Context, sess *visit.Session, reason string) error {
	if err := sess.TimeOut(reason); err != nil {
		return err
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()
	if err := s.correlator.Release(ctx, sess.ID()); err != nil {
		s.logger.Printf("session %s: release pending: %v", sess.ID(), err)
	}
	s.logger.Printf("session %s timed out: %s", sess.ID(), reason)
	s.finish(ctx, sess)
	return nil
}

// Get returns the current state of a visit.
func (s *VisitService) Get(_ context.Context, id string) (visit.Snapshot, error) {
	return s.registry.Get(strings.TrimSpace(id))
}

// List returns every tracked visit, oldest first.
func (s *VisitService) List(_ context.Context) []visit.Snapshot {
	return s.registry.List()
}

// HandleCallback correlates a resident's answer with its visit.
func (s *VisitService) HandleCallback(ctx context.Context, cb types.AuthorizationCallback) (Resolution, error) {
	return s.correlator.Resolve(ctx, cb)
}

// OperatorDecide lets an operator answer a suspended visit directly. It
// reports false when the visit had already finished.
func (s *VisitService) OperatorDecide(ctx context.Context, id string, od types.OperatorDecision) (bool, error) {
	if !od.Decision.Valid() {
		return false, ErrInvalidDecision
	}
	d := Decision{Reason: visit.ReasonOperatorDenied, Message: od.CustomMessage}
	if od.Decision == types.DecisionApproved {
		kind := visit.KindOperator
		if od.ByProtocol {
			kind = visit.KindProtocolDefault
		}
		d = Decision{Granted: true, Kind: kind, Message: od.CustomMessage}
	}
	applied, err := s.registry.Resume(ctx, strings.TrimSpace(id), d)
	if err == nil && applied {
		s.logger.Printf("session %s: operator %q decided %s", id, od.Operator, od.Decision)
	}
	return applied, err
}
