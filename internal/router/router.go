// Package router selects the model backend for each request.
//
// Selection prefers the local Ollama server and falls back to the
// cloud (Gemini) when no local model can serve. A deployment switch
// can force the cloud backend outright. Selection never fails: the
// worst case is a cloud choice whose missing credential surfaces
// later, at generation time.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/autoyou/autoyou-agent/internal/llm"
)

// Backend identifies which backend serves a request.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendCloud Backend = "cloud"
)

// Reason explains a routing decision.
type Reason string

const (
	// ReasonExplicitOverride means the deployment forced the cloud backend.
	ReasonExplicitOverride Reason = "explicit_override"

	// ReasonLocalPrimary means the preferred local model is installed.
	ReasonLocalPrimary Reason = "local_primary"

	// ReasonLocalFallback means the preferred model is missing but
	// another local model was chosen (most recently modified).
	ReasonLocalFallback Reason = "local_fallback"

	// ReasonCloudFallback means no local model could serve.
	ReasonCloudFallback Reason = "cloud_fallback"
)

// Choice records a routing decision.
type Choice struct {
	Backend   Backend   `json:"backend"`
	Model     string    `json:"model"`
	Reason    Reason    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`

	// Detail carries probe context for diagnostics (error text or the
	// number of installed models).
	Detail string `json:"detail,omitempty"`
}

// ModelLister is the slice of the local backend the selector needs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// Config holds selector configuration.
type Config struct {
	// UseCloud forces the cloud backend regardless of local availability.
	UseCloud bool

	// PreferredModel is the local model tried first (e.g. "qwen3:4b").
	PreferredModel string

	// CloudModel is used for every cloud choice (e.g. "gemini-2.5-flash").
	CloudModel string

	// ProbeTimeout bounds the local availability probe. Default 3s.
	ProbeTimeout time.Duration

	// MaxHistory bounds the in-memory decision log. Default 100.
	MaxHistory int
}

// Selector decides which backend and model serve each request.
type Selector struct {
	local  ModelLister
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	history []Choice
	counts  map[Reason]int64
}

// NewSelector creates a selector. local may be nil when no local
// backend is configured; every decision is then a cloud choice.
func NewSelector(local ModelLister, config Config, logger *slog.Logger) *Selector {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 3 * time.Second
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		local:  local,
		config: config,
		logger: logger,
		counts: make(map[Reason]int64),
	}
}

// Select decides the backend and model for a request. It never
// returns an error: probe failures route to the cloud, and a missing
// cloud credential is the generation layer's problem.
func (s *Selector) Select(ctx context.Context) Choice {
	choice := s.decide(ctx)
	choice.Timestamp = time.Now().UTC()

	s.record(choice)
	s.logger.Info("backend selected",
		"backend", choice.Backend,
		"model", choice.Model,
		"reason", choice.Reason,
		"detail", choice.Detail,
	)
	return choice
}

func (s *Selector) decide(ctx context.Context) Choice {
	if s.config.UseCloud {
		return Choice{
			Backend: BackendCloud,
			Model:   s.config.CloudModel,
			Reason:  ReasonExplicitOverride,
		}
	}

	if s.local == nil {
		return Choice{
			Backend: BackendCloud,
			Model:   s.config.CloudModel,
			Reason:  ReasonCloudFallback,
			Detail:  "no local backend configured",
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	models, err := s.local.ListModels(probeCtx)
	if err != nil {
		return Choice{
			Backend: BackendCloud,
			Model:   s.config.CloudModel,
			Reason:  ReasonCloudFallback,
			Detail:  "local probe failed: " + err.Error(),
		}
	}

	for _, m := range models {
		if m.Name == s.config.PreferredModel {
			return Choice{
				Backend: BackendLocal,
				Model:   m.Name,
				Reason:  ReasonLocalPrimary,
			}
		}
	}

	if len(models) > 0 {
		return Choice{
			Backend: BackendLocal,
			Model:   pickFallbackModel(models),
			Reason:  ReasonLocalFallback,
			Detail:  "preferred model not installed",
		}
	}

	return Choice{
		Backend: BackendCloud,
		Model:   s.config.CloudModel,
		Reason:  ReasonCloudFallback,
		Detail:  "no local models installed",
	}
}

// pickFallbackModel chooses the most recently modified local model.
// Equal timestamps fall back to lexicographic name order so the pick
// is deterministic.
func pickFallbackModel(models []llm.ModelInfo) string {
	sorted := make([]llm.ModelInfo, len(models))
	copy(sorted, models)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ModifiedAt.Equal(sorted[j].ModifiedAt) {
			return sorted[i].ModifiedAt.After(sorted[j].ModifiedAt)
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0].Name
}

// record appends to the bounded decision history and updates counts.
func (s *Selector) record(c Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) >= s.config.MaxHistory {
		s.history = s.history[1:]
	}
	s.history = append(s.history, c)
	s.counts[c.Reason]++
}

// History returns the most recent decisions, newest last.
func (s *Selector) History(limit int) []Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	start := len(s.history) - limit
	result := make([]Choice, limit)
	copy(result, s.history[start:])
	return result
}

// Stats returns decision counts by reason.
func (s *Selector) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byReason := make(map[string]int64, len(s.counts))
	var total int64
	for reason, count := range s.counts {
		byReason[string(reason)] = count
		total += count
	}

	return map[string]any{
		"total_decisions": total,
		"by_reason":       byReason,
	}
}
