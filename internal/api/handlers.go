package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"livecollab/internal/metrics"
	"livecollab/internal/models"
	"livecollab/internal/room_management"
	"livecollab/internal/session"
	"livecollab/internal/utils"
)

const (
	maxMessageSize = 1024 * 1024
	// frames over the rate limit before the connection is closed
	maxRateViolations = 1000
	disconnectTimeout = 5 * time.Second
)

type coordinator interface {
	Submit(ctx context.Context, connID string, frame models.InboundFrame) error
	Disconnect(ctx context.Context, connID string) error
	LiveRooms(ctx context.Context) ([]models.LiveRoom, error)
	LiveRoom(ctx context.Context, roomID string) (models.LiveRoomDetail, bool, error)
}

type accessPolicy interface {
	Authenticate(r *http.Request) (*room_management.Grant, error)
	Authorize(grant *room_management.Grant, frame *models.InboundFrame) error
}

type Options struct {
	RatePerSec     float64
	RateBurst      int
	AllowedOrigins []string
}

type Handlers struct {
	log      *utils.Logger
	coord    coordinator
	registry *session.Registry
	access   accessPolicy
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int

	disconnectTimeout time.Duration
}

func NewHandlers(log *utils.Logger, coord coordinator, registry *session.Registry, access accessPolicy, opts Options) *Handlers {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	return &Handlers{
		log:      log,
		coord:    coord,
		registry: registry,
		access:   access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		limit: rate.Limit(opts.RatePerSec),
		burst: opts.RateBurst,

		disconnectTimeout: disconnectTimeout,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) LiveRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.coord.LiveRooms(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rooms)
}

func (h *Handlers) LiveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	detail, ok, err := h.coord.LiveRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "room not live", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

/*** Room WebSocket: one connection may join any number of rooms ***/

func (h *Handlers) RoomWS(w http.ResponseWriter, r *http.Request) {
	grant, err := h.access.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	client := session.NewClient(connID, conn)
	h.registry.Attach(client)
	go client.WritePump()

	// a background context: the request context ends with the hijack
	ctx := context.Background()
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), h.disconnectTimeout)
		defer cancel()
		if err := h.coord.Disconnect(dctx, connID); err != nil && !errors.Is(err, session.ErrStopped) {
			h.log.Warn("failed to report disconnect", "connId", connID, "error", err)
		}
		client.Close()
	}()

	log := h.log.With("connId", connID)
	log.Debug("websocket connected", "remote", r.RemoteAddr)

	client.PrepareRead(maxMessageSize)
	limiter := rate.NewLimiter(h.limit, h.burst)
	violations := 0

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			violations++
			metrics.ObserveEvent("frame", metrics.OutcomeLimited)
			if violations%100 == 1 {
				log.Warn("rate limit exceeded", "violations", violations)
			}
			if violations > maxRateViolations {
				log.Warn("closing connection for excessive rate limit violations")
				return
			}
			continue
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Type == "" {
			client.Send(errFrame("", "malformed frame"))
			continue
		}
		if err := h.access.Authorize(grant, &frame); err != nil {
			metrics.ObserveEvent(frame.Type, metrics.OutcomeDenied)
			client.Send(errFrame(frame.Type, err.Error()))
			continue
		}
		if err := h.coord.Submit(ctx, connID, frame); err != nil {
			log.Warn("coordinator unavailable", "error", err)
			return
		}
	}
}

func errFrame(event, msg string) models.WSFrame {
	return models.WSFrame{Type: models.EventError, Data: models.ErrorMessage{Event: event, Message: msg}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
