// Package api exposes the message core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comigor/chatcore/internal/apperr"
	"github.com/comigor/chatcore/internal/command"
	"github.com/comigor/chatcore/internal/eventbus"
	"github.com/comigor/chatcore/internal/llm"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/message"
	"github.com/comigor/chatcore/internal/service"
	"github.com/comigor/chatcore/internal/store"
)

// Names under which the API registers its commands on the manager.
const (
	CommandClear       = "clear-messages"
	CommandChangeModel = "change-model"
)

// Service is the MessageService surface used by the API.
type Service interface {
	SendMessage(ctx context.Context, content string, roomID int64) (message.Result, error)
	CancelMessage(ctx context.Context, messageID string) (message.Result, error)
	RetryMessage(ctx context.Context, messageID string) (message.Result, error)
	UndoLastCommand(ctx context.Context) (message.Result, error)
	GetProcessingMessagesCount() int
}

// Lister reads the messages of a room.
type Lister interface {
	ListRoom(ctx context.Context, roomID int64) ([]message.ConcurrentMessage, error)
}

// RoomModels stores per-room model overrides.
type RoomModels interface {
	SetRoomModel(ctx context.Context, roomID int64, model string) error
}

// Events is the event bus surface used by the API.
type Events interface {
	Publish(topic string, payload any)
	Stream(ctx context.Context, pattern string, buffer int) <-chan eventbus.Event
}

// Deps are the collaborators of a Server. All fields are required.
type Deps struct {
	Service   Service
	Manager   *command.Manager
	Processor message.Processor
	Models    message.ModelSelector
	Messages  Lister
	Rooms     RoomModels
	Events    Events
	Logger    *slog.Logger
}

// Server routes HTTP requests onto the message core.
type Server struct {
	Deps
	router chi.Router
}

// New returns a server with every route registered.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logger.L
	}
	s := &Server{Deps: d}

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	r.Route("/rooms/{room}", func(r chi.Router) {
		r.Post("/messages", s.handleSend)
		r.Get("/messages", s.handleList)
		r.Delete("/messages", s.handleClear)
		r.Put("/model", s.handleRoomModel)
	})
	r.Post("/messages/{id}/cancel", s.handleCancel)
	r.Post("/messages/{id}/retry", s.handleRetry)
	r.Post("/undo", s.handleUndo)

	r.Get("/models", s.handleModels)
	r.Put("/model", s.handleChangeModel)

	r.Route("/commands", func(r chi.Router) {
		r.Post("/undo", s.handleCommandUndo)
		r.Post("/redo", s.handleCommandRedo)
		r.Get("/history", s.handleCommandHistory)
	})
	r.Get("/events", s.handleEvents)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "processing": s.Service.GetProcessingMessagesCount()})
}

type sendBody struct {
	Content string `json:"content"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}
	var body sendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, apperr.Validation("invalid request body"))
		return
	}
	s.logger().Info("send request", "room", room, "length", len(body.Content))
	res, err := s.Service.SendMessage(r.Context(), body.Content, room)
	s.reply(w, http.StatusAccepted, res, err)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}
	msgs, err := s.Messages.ListRoom(r.Context(), room)
	if msgs == nil {
		msgs = []message.ConcurrentMessage{}
	}
	s.reply(w, http.StatusOK, msgs, err)
}

// handleClear runs a ClearMessagesCommand through the manager so the clear
// can be reverted with POST /commands/undo.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}
	cmd, err := command.NewClearMessagesCommand(s.Processor, room)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.bindAndRun(r.Context(), CommandClear, cmd, map[string]any{"roomId": room})
	if err == nil {
		s.Events.Publish(eventbus.TopicMessagesCleared, service.ClearedEvent{RoomID: room, Messages: len(res.Messages)})
	}
	s.reply(w, http.StatusOK, res, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.CancelMessage(r.Context(), chi.URLParam(r, "id"))
	s.reply(w, http.StatusOK, res, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.RetryMessage(r.Context(), chi.URLParam(r, "id"))
	s.reply(w, http.StatusAccepted, res, err)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.Service.UndoLastCommand(r.Context())
	s.reply(w, http.StatusOK, res, err)
}

type modelsResponse struct {
	Current string                `json:"current"`
	Models  []message.ModelOption `json:"models"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, modelsResponse{
		Current: s.Models.GetCurrentModel(),
		Models:  s.Models.GetAvailableModels(),
	}, nil)
}

type modelBody struct {
	Model string `json:"model"`
}

func (s *Server) handleChangeModel(w http.ResponseWriter, r *http.Request) {
	var body modelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model == "" {
		s.writeError(w, apperr.Validation("model is required"))
		return
	}
	cmd, err := command.NewChangeModelCommand(s.Models, body.Model)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.bindAndRun(r.Context(), CommandChangeModel, cmd, body); err != nil {
		s.writeError(w, err)
		return
	}
	s.reply(w, http.StatusOK, modelsResponse{Current: s.Models.GetCurrentModel(), Models: s.Models.GetAvailableModels()}, nil)
}

func (s *Server) handleRoomModel(w http.ResponseWriter, r *http.Request) {
	room, ok := s.roomParam(w, r)
	if !ok {
		return
	}
	var body modelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Model == "" {
		s.writeError(w, apperr.Validation("model is required"))
		return
	}
	known := slices.ContainsFunc(s.Models.GetAvailableModels(), func(m message.ModelOption) bool { return m.Value == body.Model })
	if !known {
		s.writeError(w, fmt.Errorf("%w: %q", llm.ErrUnknownModel, body.Model))
		return
	}
	if err := s.Rooms.SetRoomModel(r.Context(), room, body.Model); err != nil {
		s.writeError(w, err)
		return
	}
	model, err := s.Models.GetModelForRoom(r.Context(), room)
	s.reply(w, http.StatusOK, map[string]any{"roomId": room, "model": model}, err)
}

// bindAndRun binds cmd to name, substituting a previous instance, and executes it.
func (s *Server) bindAndRun(ctx context.Context, name string, cmd command.Command, params any) (message.Result, error) {
	var err error
	if _, ok := s.Manager.GetCommand(name); ok {
		err = s.Manager.SubstituteCommand(name, cmd)
	} else {
		err = s.Manager.RegisterCommand(name, cmd)
	}
	if err != nil {
		return message.Result{}, err
	}
	return s.Manager.ExecuteCommand(ctx, name, params)
}

func (s *Server) handleCommandUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.Manager.UndoLastCommand(r.Context())
	s.reply(w, http.StatusOK, res, err)
}

func (s *Server) handleCommandRedo(w http.ResponseWriter, r *http.Request) {
	res, err := s.Manager.RedoLastCommand(r.Context())
	s.reply(w, http.StatusOK, res, err)
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, s.Manager.GetCommandHistory(), nil)
}

// handleEvents streams bus events as server-sent events until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	events := s.Events.Stream(r.Context(), pattern, 32)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			s.logger().Error("encode event", "topic", evt.Topic, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) roomParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	room, err := strconv.ParseInt(chi.URLParam(r, "room"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("room must be an integer"))
		return 0, false
	}
	return room, true
}

func (s *Server) reply(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger().Error("request failed", "error", err)
	} else {
		s.logger().Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, llm.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrState):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logger() *slog.Logger {
	return s.Deps.Logger
}

// NewHTTPServer wraps h with the timeouts used by cmd/chatcore.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
