package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
)

type Dependencies struct {
	Logger       *log.Logger
	Addr         string
	VisitService *service.VisitService

	// CallbackRate limits authorization callbacks per second across all
	// clients. Zero disables the limit.
	CallbackRate  float64
	CallbackBurst int
}

type Server struct {
	httpServer   *http.Server
	logger       *log.Logger
	mux          *http.ServeMux
	visitService *service.VisitService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:       d.Logger,
		mux:          mux,
		visitService: d.VisitService,
	}

	var limiter *rate.Limiter
	if d.CallbackRate > 0 {
		burst := d.CallbackBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(d.CallbackRate), burst)
	}

	mux.HandleFunc("POST /v1/visits", s.handleArrival)
	mux.HandleFunc("GET /v1/visits/{id}", s.handleGetVisit)
	mux.HandleFunc("POST /v1/callbacks/authorization", rateLimit(limiter, s.handleCallback))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Visits ───────────────────────────────────────────────────────────────────

func (s *Server) handleArrival(w http.ResponseWriter, r *http.Request) {
	var req types.ArrivalRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.visitService.Arrive(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPropertyID):
			writeError(w, http.StatusBadRequest, "invalid_property_id", err.Error())
		case errors.Is(err, service.ErrInvalidDoorID):
			writeError(w, http.StatusBadRequest, "invalid_door_id", err.Error())
		default:
			s.logger.Printf("arrival error: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	if !resp.Known {
		// Unknown doors are blocked from the visit flow.
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.visitService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "visit not found")
			return
		}
		s.logger.Printf("get visit error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ── Callbacks ────────────────────────────────────────────────────────────────

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	asProto := isProtobuf(r)
	var cb types.AuthorizationCallback
	if asProto {
		cb, err = callbackFromProto(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
	} else {
		if err := validateCallback(body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_callback", err.Error())
			return
		}
		if err := json.Unmarshal(body, &cb); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	res, err := s.visitService.HandleCallback(r.Context(), cb)
	status := http.StatusOK
	resp := types.CallbackResponse{OK: true}
	switch {
	case errors.Is(err, service.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
		return
	case errors.Is(err, service.ErrNoCorrelation):
		status = http.StatusAccepted
	case errors.Is(err, service.ErrSessionNotLocal):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "session_not_local", err.Error())
		return
	case err != nil:
		s.logger.Printf("callback error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	default:
		resp.Matched = true
		resp.SessionID = res.SessionID
		resp.MatchedBy = res.MatchedBy
		resp.Applied = res.Applied
	}

	if asProto {
		writeProto(w, status, callbackResponseToProto(resp))
		return
	}
	writeJSON(w, status, resp)
}
