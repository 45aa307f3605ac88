package visit

// Step is the position of a visit in the access flow.
type Step string

const (
	StepArrived               Step = "arrived"
	StepRecognizingPlate      Step = "recognizing_plate"
	StepConversing            Step = "conversing"
	StepRequestingID          Step = "requesting_id"
	StepContactingResident    Step = "contacting_resident"
	StepAwaitingAuthorization Step = "awaiting_authorization"
	StepDecided               Step = "decided"
	StepAccessGranted         Step = "access_granted"
	StepAccessDenied          Step = "access_denied"
	StepTimedOut              Step = "timed_out"
	StepError                 Step = "error"
)

// Terminal reports whether no further transition can leave s.
func (s Step) Terminal() bool {
	switch s {
	case StepAccessGranted, StepAccessDenied, StepTimedOut, StepError:
		return true
	default:
		return false
	}
}

// AuthorizationKind records which path produced a grant.
type AuthorizationKind string

const (
	KindNone             AuthorizationKind = ""
	KindAutomaticPlate   AuthorizationKind = "automatic_plate"
	KindPreAuthorized    AuthorizationKind = "pre_authorized"
	KindResidentApproved AuthorizationKind = "resident_approved"
	KindOperator         AuthorizationKind = "operator"
	KindProtocolDefault  AuthorizationKind = "protocol_default"
)

// Valid reports whether k names a grant path.
func (k AuthorizationKind) Valid() bool {
	switch k {
	case KindAutomaticPlate, KindPreAuthorized, KindResidentApproved, KindOperator, KindProtocolDefault:
		return true
	default:
		return false
	}
}

// edge is one allowed move in the visit flow. TimedOut and Error are
// reachable from every non-terminal step and are not listed.
type edge struct {
	From Step
	To   Step
}

var edges = []edge{
	{From: StepArrived, To: StepRecognizingPlate},

	// Plate path
	{From: StepRecognizingPlate, To: StepConversing},
	{From: StepRecognizingPlate, To: StepDecided},

	// Visitor path
	{From: StepConversing, To: StepRequestingID},
	{From: StepRequestingID, To: StepDecided},
	{From: StepRequestingID, To: StepContactingResident},

	// Resident path; a unit with no resident on file is denied outright.
	{From: StepContactingResident, To: StepAwaitingAuthorization},
	{From: StepContactingResident, To: StepDecided},
	{From: StepAwaitingAuthorization, To: StepDecided},

	// Outcome
	{From: StepDecided, To: StepAccessGranted},
	{From: StepDecided, To: StepAccessDenied},
}

var allowed = func() map[Step]map[Step]struct{} {
	m := make(map[Step]map[Step]struct{})
	for _, e := range edges {
		if m[e.From] == nil {
			m[e.From] = make(map[Step]struct{})
		}
		m[e.From][e.To] = struct{}{}
	}
	return m
}()

// CanTransition reports whether the flow permits moving from one step to
// another.
func CanTransition(from, to Step) bool {
	if from.Terminal() {
		return false
	}
	if to == StepTimedOut || to == StepError {
		return true
	}
	_, ok := allowed[from][to]
	return ok
}
