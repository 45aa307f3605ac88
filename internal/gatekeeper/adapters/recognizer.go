package adapters

import (
	"context"
	"net/http"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

// HTTPRecognizer asks the recognition service to read the plate or the
// ID document in front of a camera.
type HTTPRecognizer struct {
	client jsonClient
}

func NewHTTPRecognizer(baseURL string, hc *http.Client) *HTTPRecognizer {
	return &HTTPRecognizer{client: newJSONClient(baseURL, hc)}
}

type recognizeRequest struct {
	PropertyID string `json:"property_id"`
	CameraID   string `json:"camera_id"`
}

type plateResponse struct {
	Plate       string  `json:"plate"`
	Confidence  float64 `json:"confidence"`
	VehicleType string  `json:"vehicle_type"`
	SnapshotURL string  `json:"snapshot_url"`
}

type idResponse struct {
	IDNumber   string  `json:"id_number"`
	Confidence float64 `json:"confidence"`
	Name       string  `json:"name"`
}

func (r *HTTPRecognizer) RecognizePlate(ctx context.Context, propertyID, cameraID string) (visit.PlateReading, error) {
	var out plateResponse
	if err := r.client.post(ctx, "/v1/recognize/plate", recognizeRequest{PropertyID: propertyID, CameraID: cameraID}, &out); err != nil {
		return visit.PlateReading{}, err
	}
	return visit.PlateReading{
		Plate:       out.Plate,
		Confidence:  out.Confidence,
		VehicleType: out.VehicleType,
		SnapshotURL: out.SnapshotURL,
	}, nil
}

func (r *HTTPRecognizer) RecognizeID(ctx context.Context, propertyID, cameraID string) (visit.IDReading, error) {
	var out idResponse
	if err := r.client.post(ctx, "/v1/recognize/id", recognizeRequest{PropertyID: propertyID, CameraID: cameraID}, &out); err != nil {
		return visit.IDReading{}, err
	}
	return visit.IDReading{IDNumber: out.IDNumber, Confidence: out.Confidence, Name: out.Name}, nil
}
