// Package handler exposes the match pool and the index update publisher over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/filters"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/indexer/validator"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/matcher/pool"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/internal/person"
	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/tracing"
)

const maxBodyBytes = 1 << 20

type MatchRunner interface {
	RunMatching(ctx context.Context, p *person.Person, params *matcher.ActivityContext, customFilters *filters.PersonFilters, initialTokens []string) (*matcher.Result, error)
	Stats() pool.Stats
}

type ChangePublisher interface {
	Publish(ctx context.Context, ev *indexer.PersonChangeEvent) (*indexer.PublishResponse, error)
}

// MatchRequest is the JSON body of POST /api/v1/matches.
type MatchRequest struct {
	Person        *person.Person           `json:"person"`
	Activity      *matcher.ActivityContext `json:"activity,omitempty"`
	Filters       *filters.PersonFilters   `json:"filters,omitempty"`
	InitialTokens []string                 `json:"initial_tokens,omitempty"`
}

type MatchResponse struct {
	PersonToken string   `json:"person_token"`
	Send        []string `json:"send"`
	Receive     []string `json:"receive"`
	LatencyMs   int64    `json:"latency_ms"`
}

type Handler struct {
	runner         MatchRunner
	publisher      ChangePublisher
	requestTimeout time.Duration
	traceSample    float64
	logger         *slog.Logger
}

// New creates a Handler. publisher may be nil, in which case index updates
// are rejected with 503.
func New(runner MatchRunner, publisher ChangePublisher, requestTimeout time.Duration, traceSample float64) *Handler {
	return &Handler{
		runner:         runner,
		publisher:      publisher,
		requestTimeout: requestTimeout,
		traceSample:    traceSample,
		logger:         slog.Default().With("component", "match-handler"),
	}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/matches", h.Matches)
	mux.HandleFunc("POST /api/v1/index/updates", h.IndexUpdate)
	mux.HandleFunc("GET /api/v1/pool/stats", h.PoolStats)
}

func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req MatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Person == nil {
		h.writeError(w, http.StatusBadRequest, apperrors.ErrMissingPerson.Error())
		return
	}
	if req.Filters != nil {
		if err := req.Filters.Distance.CheckMiles(); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx, span := tracing.StartSpan(ctx, "http.matches", middleware.GetRequestID(ctx))
	span.SetAttr("person", req.Person.Token)
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	result, err := h.runner.RunMatching(ctx, req.Person, req.Activity, req.Filters, req.InitialTokens)
	span.End()
	if h.traceSample > 0 && rand.Float64() < h.traceSample {
		span.Log()
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("match failed",
			"person", req.Person.Token,
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, err.Error())
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Info("match completed",
		"person", req.Person.Token,
		"send", len(result.Send),
		"receive", len(result.Receive),
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, &MatchResponse{
		PersonToken: req.Person.Token,
		Send:        result.Send.Sorted(),
		Receive:     result.Receive.Sorted(),
		LatencyMs:   latencyMs,
	})
}

func (h *Handler) IndexUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "index updates are disabled")
		return
	}

	var ev indexer.PersonChangeEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := h.publisher.Publish(ctx, &ev)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		log.Error("publishing person change failed", "person", ev.Person.Token, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "index update could not be queued")
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) PoolStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.runner.Stats())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
