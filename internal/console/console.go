// Package console serves the operator console API: what is waiting at the
// gates and the operator's decisions on it.
package console

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
)

type Handler struct {
	Visits  *service.VisitService
	Doors   *service.DoorRegistry
	Pending store.PendingStore
	Events  store.AccessEventStore
	Logger  *log.Logger
}

// Router builds the gin engine for the console.
func Router(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger))

	op := r.Group("/operator")
	op.GET("/visits", h.ListVisits)
	op.GET("/visits/:id", h.GetVisit)
	op.POST("/visits/:id/decision", h.Decide)
	op.GET("/pending", h.ListPending)
	op.GET("/events", h.ListEvents)
	op.GET("/doors", h.ListDoors)
	return r
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()
		if logger != nil {
			logger.Printf("console %s %s status=%d dur=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
		}
	}
}

func (h *Handler) ListVisits(c *gin.Context) {
	visits := h.Visits.List(c.Request.Context())
	if c.Query("active") == "true" {
		active := visits[:0]
		for _, v := range visits {
			if !v.Step.Terminal() {
				active = append(active, v)
			}
		}
		visits = active
	}
	c.JSON(http.StatusOK, gin.H{"visits": visits})
}

func (h *Handler) GetVisit(c *gin.Context) {
	snap, err := h.Visits.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListPending(c *gin.Context) {
	entries, err := h.Pending.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if entries == nil {
		entries = []store.PendingEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": entries})
}

// Decide lets the operator answer a waiting visit.
func (h *Handler) Decide(c *gin.Context) {
	var in types.OperatorDecision
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	id := c.Param("id")
	applied, err := h.Visits.OperatorDecide(c.Request.Context(), id, in)
	switch {
	case errors.Is(err, service.ErrInvalidDecision):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid_decision"})
		return
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	case !applied:
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "already_decided"})
		return
	}

	snap, _ := h.Visits.Get(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"ok": true, "visit": snap})
}

type eventView struct {
	SessionID         string    `json:"session_id"`
	PropertyID        string    `json:"property_id"`
	DoorID            string    `json:"door_id"`
	Step              string    `json:"step"`
	Granted           bool      `json:"granted"`
	GateOpened        bool      `json:"gate_opened"`
	AuthorizationKind string    `json:"authorization_kind,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	Plate             string    `json:"plate,omitempty"`
	Unit              string    `json:"unit,omitempty"`
	DecidedAt         time.Time `json:"decided_at"`
}

// ListEvents returns the newest audit entries for ?property_id=.
func (h *Handler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.Events.ListRecent(c.Request.Context(), c.Query("property_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	out := make([]eventView, 0, len(recs))
	for _, r := range recs {
		out = append(out, eventView{
			SessionID:         r.SessionID,
			PropertyID:        r.PropertyID,
			DoorID:            r.DoorID,
			Step:              r.Step,
			Granted:           r.Granted,
			GateOpened:        r.GateOpened,
			AuthorizationKind: r.AuthorizationKind,
			Reason:            r.Reason,
			Plate:             r.Plate,
			Unit:              r.Unit,
			DecidedAt:         r.DecidedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// ListDoors shows every door that took an arrival at ?property_id=,
// including ones still waiting to be commissioned.
func (h *Handler) ListDoors(c *gin.Context) {
	doors, err := h.Doors.List(c.Request.Context(), c.Query("property_id"))
	if errors.Is(err, service.ErrInvalidPropertyID) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "property_id_required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"doors": doors})
}

// Server runs the console router on its own listener.
type Server struct {
	httpServer *http.Server
}

func NewServer(addr string, h *Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           Router(h),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
