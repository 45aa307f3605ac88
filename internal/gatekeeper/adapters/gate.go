package adapters

import (
	"context"
	"net/http"
)

// HTTPGate sends open commands to the gate controller.
type HTTPGate struct {
	client jsonClient
}

func NewHTTPGate(baseURL string, hc *http.Client) *HTTPGate {
	return &HTTPGate{client: newJSONClient(baseURL, hc)}
}

type openGateRequest struct {
	PropertyID string `json:"property_id"`
	DoorID     string `json:"door_id"`
	Reason     string `json:"reason"`
}

type openGateResponse struct {
	Opened bool `json:"opened"`
}

// OpenGate reports the controller's acknowledgement. Transport failures
// and non-2xx answers are errors; a controller that answers but refuses
// returns false with a nil error.
func (g *HTTPGate) OpenGate(ctx context.Context, propertyID, doorID, reason string) (bool, error) {
	var out openGateResponse
	err := g.client.post(ctx, "/v1/gates/open", openGateRequest{
		PropertyID: propertyID,
		DoorID:     doorID,
		Reason:     reason,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Opened, nil
}
