// Package evaluation orchestrates the data-plane request loop: cache read,
// store fallback, cache fill, rule engine, typed value conversion. The path
// is degradation-first: infrastructure faults never fail a well-formed
// request, they degrade it to the caller's default value.
package evaluation

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/engine"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MaxBatchSize bounds one batch evaluation request.
const MaxBatchSize = 50

// DefaultEnvironment applies when a request names no environment.
const DefaultEnvironment = models.EnvProduction

// Request is one evaluation ask.
type Request struct {
	FlagKey      string             `json:"flag_key"`
	UserContext  models.UserContext `json:"user_context"`
	Environment  string             `json:"environment,omitempty"`
	DefaultValue any                `json:"default_value,omitempty"`
}

// Result is the evaluation answer. It always carries a value: the decision's
// typed value on success, the caller's default on any degradation.
type Result struct {
	FlagKey    string    `json:"flag_key"`
	Value      any       `json:"value"`
	VariantKey string    `json:"variant_key,omitempty"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config tunes the service.
type Config struct {
	// SampleRate is the fraction of evaluations recorded to the store.
	SampleRate float64
	// PollInterval is advertised to SDKs in the config payload.
	PollInterval time.Duration
}

// Service wires the evaluation path together.
type Service struct {
	configs repositories.FlagConfigRepo
	flags   repositories.FlagRepo
	evals   repositories.EvaluationRepo
	cache   *cache.ConfigCache
	engine  *engine.Engine
	config  Config
	logger  ectologger.Logger
}

// NewService creates the evaluation service.
func NewService(
	configs repositories.FlagConfigRepo,
	flags repositories.FlagRepo,
	evals repositories.EvaluationRepo,
	configCache *cache.ConfigCache,
	eng *engine.Engine,
	cfg Config,
	logger ectologger.Logger,
) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Service{
		configs: configs,
		flags:   flags,
		evals:   evals,
		cache:   configCache,
		engine:  eng,
		config:  cfg,
		logger:  logger,
	}
}

// Evaluate runs one evaluation. The returned result is always usable; the
// error is only non-nil for caller mistakes (missing flag key).
func (s *Service) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Evaluation.Evaluate")
	defer span.End()

	if req.FlagKey == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "flag_key is required")
	}

	environment := req.Environment
	if environment == "" {
		environment = DefaultEnvironment
	}

	start := time.Now()
	result := s.evaluate(ctx, req, environment)
	s.record(ctx, req, environment, result, time.Since(start))

	return result, nil
}

func (s *Service) evaluate(ctx context.Context, req *Request, environment string) *Result {
	snap, reason := s.loadSnapshot(ctx, req.FlagKey, environment)
	if snap == nil {
		return s.defaultResult(req, reason)
	}

	if !snap.Valid() {
		return s.defaultResult(req, engine.ReasonInvalidContext)
	}

	decision := s.engine.Evaluate(snap, req.UserContext)
	value := engine.TypedValue(snap, decision, req.DefaultValue)

	return &Result{
		FlagKey:    req.FlagKey,
		Value:      value,
		VariantKey: decision.Variant,
		Reason:     string(decision.Reason),
		Timestamp:  time.Now().UTC(),
	}
}

// loadSnapshot reads the cache first and falls back to the store. A nil
// snapshot means the evaluation must degrade with the returned reason.
func (s *Service) loadSnapshot(ctx context.Context, flagKey, environment string) (*models.Snapshot, engine.Reason) {
	snap, err := s.cache.Get(ctx, flagKey, environment)
	if err == nil {
		metrics.RecordCacheHit(flagKey, environment)
		return snap, ""
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// A cache fault is not a miss: skip straight to the store so one
		// Redis outage degrades latency, not correctness.
		s.logger.WithContext(ctx).WithError(err).Warnf("Cache read failed for %s/%s", flagKey, environment)
	}
	metrics.RecordCacheMiss(flagKey, environment)

	snap, err = s.configs.GetSnapshot(ctx, flagKey, environment)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil, engine.ReasonFlagNotFound
		}
		s.logger.WithContext(ctx).WithError(err).Errorf("Store read failed for %s/%s", flagKey, environment)
		metrics.EvaluationErrorsTotal.WithLabelValues(flagKey, environment, "store").Inc()
		return nil, engine.ReasonEvaluationError
	}

	// Fire-and-forget cache fill; a write failure is logged, not fatal.
	go func(snap *models.Snapshot) {
		fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(fillCtx, snap); err != nil {
			s.logger.WithError(err).Warnf("Cache fill failed for %s/%s", flagKey, environment)
		}
	}(snap)

	return snap, ""
}

func (s *Service) defaultResult(req *Request, reason engine.Reason) *Result {
	return &Result{
		FlagKey:   req.FlagKey,
		Value:     req.DefaultValue,
		Reason:    string(reason),
		Timestamp: time.Now().UTC(),
	}
}

// record emits metrics and a sampled store record for the evaluation.
func (s *Service) record(ctx context.Context, req *Request, environment string, result *Result, elapsed time.Duration) {
	var outcome string
	switch engine.Reason(result.Reason) {
	case engine.ReasonPercentageMatch, engine.ReasonAttributeMatch, engine.ReasonUserIDMatch,
		engine.ReasonFullRollout, engine.ReasonRolloutMatch:
		outcome = "enabled"
	case engine.ReasonFlagNotFound, engine.ReasonEvaluationError, engine.ReasonInvalidContext:
		outcome = "default"
	default:
		outcome = "disabled"
	}

	metrics.RecordEvaluation(req.FlagKey, environment, outcome, result.Reason, elapsed.Seconds())

	if s.evals == nil || s.config.SampleRate <= 0 || rand.Float64() > s.config.SampleRate {
		return
	}

	eval := &models.FlagEvaluation{
		FlagKey:     req.FlagKey,
		Environment: environment,
		UserID:      req.UserContext.Identifier(),
		VariantKey:  result.VariantKey,
		Enabled:     outcome == "enabled",
		Reason:      result.Reason,
	}
	go func() {
		recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.evals.Record(recordCtx, eval)
	}()
}

// EvaluateBatch evaluates up to MaxBatchSize requests. Size is validated
// before any element evaluates, so an oversized batch has no side effects.
func (s *Service) EvaluateBatch(ctx context.Context, reqs []*Request) ([]*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Evaluation.EvaluateBatch")
	defer span.End()

	if len(reqs) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "requests is required")
	}
	if len(reqs) > MaxBatchSize {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "batch size %d exceeds maximum of %d", len(reqs), MaxBatchSize)
	}
	for i, req := range reqs {
		if req == nil || req.FlagKey == "" {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "requests[%d] is missing flag_key", i)
		}
	}

	results := make([]*Result, len(reqs))
	for i, req := range reqs {
		result, err := s.Evaluate(ctx, req)
		if err != nil {
			return nil, err
		}
		results[i] = result
	}

	return results, nil
}
