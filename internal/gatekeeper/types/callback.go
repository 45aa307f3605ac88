package types

// Decision is the answer carried by an authorization callback.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionDenied
}

// AuthorizationCallback is a resident's answer delivered by the messaging
// relay. Every identifying field is optional; at least one of Phone or
// Unit must be present for the callback to be correlated.
type AuthorizationCallback struct {
	Phone         string   `json:"phone,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	SpokenName    string   `json:"spoken_name,omitempty"`
	Decision      Decision `json:"decision"`
	CustomMessage string   `json:"custom_message,omitempty"`
}

type CallbackResponse struct {
	OK        bool   `json:"ok"`
	Matched   bool   `json:"matched"`
	SessionID string `json:"session_id,omitempty"`
	MatchedBy string `json:"matched_by,omitempty"`
	Applied   bool   `json:"applied,omitempty"`
}

// OperatorDecision is posted by the console when an operator takes over a
// waiting visit.
type OperatorDecision struct {
	Decision      Decision `json:"decision" binding:"required"`
	CustomMessage string   `json:"custom_message,omitempty"`
	Operator      string   `json:"operator,omitempty"`
	// ByProtocol marks an approval made under the property's standing
	// protocol rather than the operator's own judgement.
	ByProtocol bool `json:"by_protocol,omitempty"`
}
