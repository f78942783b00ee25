package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/admission"
	"github.com/pointdeck/pointdeck/internal/room"
)

// Service ties the connection manager, room manager, and admission
// control to their HTTP surface.
type Service struct {
	cm      *ConnectionManager
	rooms   *room.Manager
	limiter *admission.Limiter
	flags   FlagSource
}

func NewService(cm *ConnectionManager, rooms *room.Manager, limiter *admission.Limiter, flagSource FlagSource) *Service {
	return &Service{cm: cm, rooms: rooms, limiter: limiter, flags: flagSource}
}

// RegisterRoutes mounts the gateway endpoints.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/room", s.handleCreateRoom)
	r.Get("/ws/{roomID}", s.handleRoomSocket)
	r.Get("/ws/stats", s.handleStats)
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !s.flags.Current().AppEnabled {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service disabled"})
		return
	}

	source := admission.SourceAddr(r)
	if err := s.limiter.Allow(source); err != nil {
		if errors.Is(err, admission.ErrRateLimited) {
			metricRoomsRateLimited.Inc()
			log.Warn().Str("source", source).Msg("room creation rate limited")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	roomID, err := s.rooms.CreateRoom(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	metricRoomsCreated.Inc()
	writeJSON(w, http.StatusOK, createRoomResponse{RoomID: roomID})
}

func (s *Service) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	if !s.flags.Current().AppEnabled {
		http.Error(w, "service disabled", http.StatusServiceUnavailable)
		return
	}

	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	if err := s.cm.UpgradeConnection(w, r, roomID); err != nil {
		if errors.Is(err, ErrRoomFull) {
			http.Error(w, "room full", http.StatusServiceUnavailable)
			return
		}
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Msg("failed to upgrade websocket connection")
		// Upgrade failures after the handshake started cannot write a
		// status; this covers pre-handshake errors.
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cm.ConnectionStats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
