package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/config"
	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/service"
	"github.com/wricardo/militia-relay/game/session"
	"github.com/wricardo/militia-relay/game/stats"
	"github.com/wricardo/militia-relay/transport/websocket"
)

// Server represents the REST admin API server
type Server struct {
	service service.RelayService
	hub     *websocket.Hub
	router  *mux.Router
	logger  *zap.Logger
	started time.Time
}

// NewServer creates a new API server. hub may be nil when the relay
// transport is served elsewhere.
func NewServer(relay service.RelayService, hub *websocket.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: relay,
		hub:     hub,
		router:  mux.NewRouter(),
		logger:  logger,
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	// Rooms
	api.HandleFunc("/rooms", s.handleCreateRoom).Methods("POST")
	api.HandleFunc("/rooms", s.handleListRooms).Methods("GET")
	api.HandleFunc("/rooms/{code}", s.handleGetRoom).Methods("GET")
	api.HandleFunc("/rooms/{code}", s.handleCloseRoom).Methods("DELETE")
	api.HandleFunc("/rooms/{code}/start", s.handleStartMatch).Methods("POST")

	// Rules presets
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/{name}", s.handleGetRules).Methods("GET")
	api.HandleFunc("/rules/{name}", s.handleSaveRules).Methods("PUT")

	// Stats
	api.HandleFunc("/players/{id}/stats", s.handlePlayerStats).Methods("GET")
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")
	api.HandleFunc("/matches", s.handleRecentMatches).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// WebSocket relay
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrRoomNotFound),
		errors.Is(err, config.ErrRulesNotFound),
		errors.Is(err, stats.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, session.ErrRoomFull),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, match.ErrInvalidRules),
		errors.Is(err, config.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrStatsDisabled),
		errors.Is(err, session.ErrCodeSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return 0
}

// Room Handlers

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, err := s.service.CreateRoom(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	s.logger.Info("room created",
		zap.String("room", room.RoomCode),
		zap.String("host", room.HostID),
		zap.String("rules", room.Rules))
	respondJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.ListRooms(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Optional status filter
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := rooms[:0]
		for _, room := range rooms {
			if string(room.Status) == status {
				filtered = append(filtered, room)
			}
		}
		rooms = filtered
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(rooms),
		"rooms": rooms,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.service.GetRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, room)
}

func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	code := session.NormalizeCode(mux.Vars(r)["code"])

	if err := s.service.CloseRoom(r.Context(), code); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Room " + code + " closed",
	})
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	room, err := s.service.StartMatch(r.Context(), mux.Vars(r)["code"], req.PlayerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, room)
}

// Rules Handlers

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.service.ListRules(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	// Remove .json extension if present
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".json")

	rules, err := s.service.LoadRules(r.Context(), name)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rules)
}

func (s *Server) handleSaveRules(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(mux.Vars(r)["name"], ".json")

	var rules match.Rules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if rules.Name == "" {
		rules.Name = name
	}

	if err := s.service.SaveRules(r.Context(), name, &rules); err != nil {
		respondServiceError(w, err)
		return
	}

	s.logger.Info("rules preset saved", zap.String("rules", name))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rules saved successfully",
		"id":      name,
	})
}

// Stats Handlers

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.PlayerStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")

	board, err := s.service.Leaderboard(r.Context(), metric, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if metric == "" {
		metric = string(stats.MetricExperience)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metric":  metric,
		"players": board,
	})
}

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.RecentMatches(r.Context(), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(matches),
		"matches": matches,
	})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms, _ := s.service.ListRooms(r.Context())
	body := map[string]interface{}{
		"status": "healthy",
		"rooms":  len(rooms),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.hub != nil {
		body["transport"] = s.hub.Stats()
	}
	respondJSON(w, http.StatusOK, body)
}
