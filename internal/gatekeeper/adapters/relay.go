package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
)

// RelayNotifier sends resident prompts through the messaging relay. The
// resident's reply comes back to the callback endpoint.
type RelayNotifier struct {
	client jsonClient
}

func NewRelayNotifier(baseURL string, hc *http.Client) *RelayNotifier {
	return &RelayNotifier{client: newJSONClient(baseURL, hc)}
}

type relayMessage struct {
	To          string `json:"to"`
	Template    string `json:"template"`
	SessionID   string `json:"session_id,omitempty"`
	PropertyID  string `json:"property_id,omitempty"`
	Unit        string `json:"unit,omitempty"`
	VisitorName string `json:"visitor_name,omitempty"`
	Plate       string `json:"plate,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Text        string `json:"text,omitempty"`
}

type relayResponse struct {
	Accepted  bool   `json:"accepted"`
	MessageID string `json:"message_id"`
}

func (r *RelayNotifier) send(ctx context.Context, msg relayMessage) (bool, error) {
	var out relayResponse
	if err := r.client.post(ctx, "/v1/messages", msg, &out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

func (r *RelayNotifier) NotifyResident(ctx context.Context, n service.Notification) (bool, error) {
	if strings.TrimSpace(n.Phone) == "" {
		return false, errors.New("relay: resident phone is empty")
	}
	return r.send(ctx, relayMessage{
		To:          n.Phone,
		Template:    "visitor_authorization",
		SessionID:   n.SessionID,
		PropertyID:  n.PropertyID,
		Unit:        n.Unit,
		VisitorName: n.VisitorName,
		MediaURL:    n.EvidenceURL,
	})
}

// OperatorEscalator pages the on-duty operator through the relay when a
// resident has not answered in time.
type OperatorEscalator struct {
	relay *RelayNotifier
	phone string
}

func NewOperatorEscalator(relay *RelayNotifier, operatorPhone string) *OperatorEscalator {
	return &OperatorEscalator{relay: relay, phone: strings.TrimSpace(operatorPhone)}
}

func (e *OperatorEscalator) Escalate(ctx context.Context, esc service.Escalation) error {
	if e.phone == "" {
		return ErrNotConfigured
	}
	waited := time.Since(esc.WaitingSince).Round(time.Second)
	accepted, err := e.relay.send(ctx, relayMessage{
		To:          e.phone,
		Template:    "operator_escalation",
		SessionID:   esc.SessionID,
		Unit:        esc.Unit,
		VisitorName: esc.VisitorName,
		Plate:       esc.Plate,
		Text:        fmt.Sprintf("Unit %s has not answered for %s", esc.Unit, waited),
	})
	if err != nil {
		return err
	}
	if !accepted {
		return errors.New("relay refused operator escalation")
	}
	return nil
}
