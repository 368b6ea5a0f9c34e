package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/personachat/broker/internal/broker"
	"github.com/personachat/broker/internal/db"
	"github.com/personachat/broker/internal/metrics"
	"github.com/personachat/broker/internal/models"
	"github.com/personachat/broker/internal/persona"
	"github.com/personachat/broker/internal/tokens"
)

// Config tunes the gateway.
type Config struct {
	// MaxContextTokens is the truncation budget applied before admission.
	MaxContextTokens int

	// Timeout bounds the wait for a result. Kept shorter than the
	// companion app's client timeout so the server answers with a clean
	// error before the client gives up.
	Timeout time.Duration
}

type Handler struct {
	queue   *broker.Queue
	db      *db.Database
	metrics *metrics.Collector
	cfg     Config
	logger  *zap.Logger
}

func NewHandler(queue *broker.Queue, database *db.Database, collector *metrics.Collector, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		queue:   queue,
		db:      database,
		metrics: collector,
		cfg:     cfg,
		logger:  logger,
	}
}

type ChatTurn struct {
	Turn    string `json:"turn"`
	Message string `json:"message"`
}

type BotProfile struct {
	Name         string `json:"name"`
	Appearance   string `json:"appearance"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type UserProfile struct {
	Name string `json:"name"`
}

type MessageRequest struct {
	UserProfile UserProfile `json:"user_profile"`
	BotProfile  BotProfile  `json:"bot_profile"`
	Context     []ChatTurn  `json:"context"`
}

type MessageResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// HandleMessage accepts a chat request, admits it to the queue, and waits
// for the worker's result up to the configured deadline.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	messages := make([]models.Message, 0, len(req.Context)+1)
	for _, turn := range req.Context {
		messages = append(messages, models.Message{Role: turn.Turn, Content: turn.Message})
	}
	system := persona.SystemPrompt(req.BotProfile.Name, req.BotProfile.Appearance, req.BotProfile.SystemPrompt)
	messages = persona.InsertSystem(messages, system)
	messages = tokens.Truncate(messages, h.cfg.MaxContextTokens)

	task := broker.NewTask(messages)
	logger := h.logger.With(zap.String("request_id", task.ID))
	start := time.Now()

	if !h.queue.TryEnqueue(task) {
		logger.Warn("queue full; rejecting request",
			zap.Int("capacity", h.queue.Cap()))
		h.metrics.TaskRejected()
		h.finish(logger, &req, task.ID, "", db.OutcomeRejected, start)
		writeError(w, http.StatusServiceUnavailable, "Server too busy. Please try again later.")
		return
	}
	h.metrics.TaskAdmitted(h.queue.Len())

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	text, err := task.Handle.Await(ctx)
	switch {
	case err == nil:
		h.finish(logger, &req, task.ID, text, db.OutcomeOK, start)
		writeJSON(w, http.StatusOK, MessageResponse{Response: text})
	case errors.Is(err, broker.ErrTimeout):
		logger.Warn("generation timed out", zap.Duration("elapsed", time.Since(start)))
		h.finish(logger, &req, task.ID, "", db.OutcomeTimeout, start)
		writeError(w, http.StatusRequestTimeout, "Generation timed out")
	default:
		logger.Error("generation failed", zap.Error(err))
		h.finish(logger, &req, task.ID, err.Error(), db.OutcomeError, start)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
	}
}

// finish counts the outcome and saves the exchange transcript. Persistence
// is best-effort; a store failure never affects the caller's response.
func (h *Handler) finish(logger *zap.Logger, req *MessageRequest, requestID, response, outcome string, start time.Time) {
	h.metrics.RequestFinished(outcome)
	if h.db == nil {
		return
	}

	promptChars := 0
	for _, turn := range req.Context {
		promptChars += len(turn.Message)
	}

	ex := &models.Exchange{
		RequestID:   requestID,
		BotName:     req.BotProfile.Name,
		UserName:    req.UserProfile.Name,
		PromptChars: promptChars,
		Response:    response,
		Outcome:     outcome,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if err := h.db.SaveExchange(ex); err != nil {
		logger.Warn("failed to save exchange", zap.Error(err))
	}
}

// Healthz reports liveness plus queue pressure.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queue_depth":    h.queue.Len(),
		"queue_capacity": h.queue.Cap(),
	})
}

// GetExchanges lists recent transcript entries, newest first.
func (h *Handler) GetExchanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	exchanges, err := h.db.RecentExchanges(limit)
	if err != nil {
		h.logger.Error("failed to get exchanges", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, exchanges)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
