// Package service resolves flag definitions through a cache and a repository
// and runs them through the evaluation chain. Collaborator failures are
// logged and absorbed: callers always receive a well-formed result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/flagchain/internal/core"
	"github.com/matt-riley/flagchain/internal/repository"
)

const (
	// DefaultCacheTTL is how long a repository hit stays cached.
	DefaultCacheTTL = 5 * time.Minute

	// ReasonUnhandled marks results produced after an internal failure.
	ReasonUnhandled = "No evaluator could handle this flag"

	tracerName = "github.com/matt-riley/flagchain/internal/service"
)

// Cache lookup outcomes reported to the Recorder.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Auto-provision outcomes reported to the Recorder.
const (
	ProvisionCreated   = "created"
	ProvisionDuplicate = "duplicate"
	ProvisionFailed    = "failed"
	ProvisionSkipped   = "skipped"
)

// Repository is the system of record for flag definitions. GetFlag must
// return an error wrapping repository.ErrFlagNotFound for unknown keys and
// CreateFlag one wrapping repository.ErrDuplicateKey for existing keys.
type Repository interface {
	GetFlag(ctx context.Context, key string) (core.FeatureFlag, error)
	CreateFlag(ctx context.Context, flag core.FeatureFlag) (core.FeatureFlag, error)
}

// Cache stores flag definitions in front of the repository.
type Cache interface {
	Get(ctx context.Context, key string) (core.FeatureFlag, bool, error)
	Set(ctx context.Context, key string, flag core.FeatureFlag, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives evaluation telemetry.
type Recorder interface {
	RecordEvaluation(handler string, enabled bool)
	RecordCacheLookup(result string)
	RecordRepositoryError(op string)
	RecordAutoProvision(outcome string)
	RecordCacheInvalidation()
}

// InvalidationSource announces keys whose cached definitions are stale.
type InvalidationSource interface {
	SubscribeFlagInvalidation(ctx context.Context) (<-chan string, error)
}

// Evaluator resolves and evaluates flags. It is safe for concurrent use.
type Evaluator struct {
	repo          Repository
	cache         Cache
	cacheTTL      time.Duration
	chain         *core.Chain
	logger        *slog.Logger
	now           func() time.Time
	autoProvision bool
	recorder      Recorder
	tracer        trace.Tracer

	// invalidations counts keys received by WatchInvalidations.
	invalidations atomic.Uint64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCache places cache in front of the repository. Without it every
// evaluation reads the repository.
func WithCache(cache Cache) Option {
	return func(e *Evaluator) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithCacheTTL overrides DefaultCacheTTL. Non-positive values disable cache
// population.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Evaluator) { e.cacheTTL = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the source of "now" for evaluations that carry no
// evaluation time of their own.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAutoProvision controls whether unknown keys are written back to the
// repository as disabled flags. Enabled by default.
func WithAutoProvision(enabled bool) Option {
	return func(e *Evaluator) { e.autoProvision = enabled }
}

func WithRecorder(recorder Recorder) Option {
	return func(e *Evaluator) {
		if recorder != nil {
			e.recorder = recorder
		}
	}
}

// WithChain replaces the default handler chain.
func WithChain(chain *core.Chain) Option {
	return func(e *Evaluator) {
		if chain != nil {
			e.chain = chain
		}
	}
}

func New(repo Repository, opts ...Option) (*Evaluator, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	e := &Evaluator{
		repo:          repo,
		cache:         noopCache{},
		cacheTTL:      DefaultCacheTTL,
		chain:         core.DefaultChain(),
		logger:        slog.Default(),
		now:           time.Now,
		autoProvision: true,
		recorder:      noopRecorder{},
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Evaluate resolves key and runs it through the handler chain. It never
// returns an error: unknown keys and collaborator failures produce a
// disabled result.
func (e *Evaluator) Evaluate(ctx context.Context, key string, ec core.EvaluationContext) core.EvaluationResult {
	_, result := e.evaluate(ctx, key, ec)
	return result
}

// EvaluateAll evaluates every key with the same context. Duplicate keys are
// evaluated once.
func (e *Evaluator) EvaluateAll(ctx context.Context, keys []string, ec core.EvaluationContext) map[string]core.EvaluationResult {
	results := make(map[string]core.EvaluationResult, len(keys))
	for _, key := range keys {
		if _, ok := results[key]; ok {
			continue
		}
		results[key] = e.Evaluate(ctx, key, ec)
	}
	return results
}

// GetVariation evaluates key and coerces the resulting variation payload to
// T. Disabled results, missing payloads and failed conversions all yield def.
func GetVariation[T any](ctx context.Context, e *Evaluator, key string, def T, ec core.EvaluationContext) (out T) {
	if e == nil {
		return def
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("variation lookup panicked", "flag_key", key, "panic", r)
			out = def
		}
	}()

	flag, result := e.evaluate(ctx, key, ec)
	if !result.Enabled {
		return def
	}

	name := result.VariationOrOff()
	value, ok := flag.VariationValue(name)
	if !ok {
		// Targeting rules may name variations that carry no payload.
		value = core.String(name)
	}

	converted, err := core.Convert[T](value)
	if err != nil {
		e.logger.Debug("variation conversion failed",
			"flag_key", key,
			"variation", name,
			"error", err,
		)
		return def
	}

	return converted
}

// ResolveVariation is GetVariation for payloads whose type is only known at
// run time. A non-null def fixes the result kind: the payload is coerced to
// def's kind and def is returned when that fails.
func (e *Evaluator) ResolveVariation(ctx context.Context, key string, def core.Value, ec core.EvaluationContext) core.Value {
	value := GetVariation(ctx, e, key, def, ec)
	if def.Kind() == core.KindNull || value.Kind() == def.Kind() {
		return value
	}

	coerced, err := core.ConvertKind(value, def.Kind())
	if err != nil {
		if e != nil {
			e.logger.Debug("variation conversion failed",
				"flag_key", key,
				"kind", def.Kind().String(),
				"error", err,
			)
		}
		return def
	}
	return coerced
}

// WatchInvalidations drops cached definitions announced by source until ctx
// ends. It returns once the subscription is established. A repository read
// that overlaps an invalidation is not cached, so a definition fetched just
// before a change cannot outlive it for a full TTL.
func (e *Evaluator) WatchInvalidations(ctx context.Context, source InvalidationSource) error {
	keys, err := source.SubscribeFlagInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe flag invalidation: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case key, ok := <-keys:
				if !ok {
					return
				}
				e.invalidations.Add(1)
				if err := e.cache.Delete(ctx, key); err != nil {
					e.logger.Warn("cache invalidation failed", "flag_key", key, "error", err)
					continue
				}
				e.recorder.RecordCacheInvalidation()
				e.logger.Debug("cache entry invalidated", "flag_key", key)
			}
		}
	}()

	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, key string, ec core.EvaluationContext) (flag core.FeatureFlag, result core.EvaluationResult) {
	ctx, span := e.tracer.Start(ctx, "Evaluator.Evaluate", trace.WithAttributes(attribute.String("flag.key", key)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("flag evaluation panicked", "flag_key", key, "panic", r)
			span.SetStatus(codes.Error, "panic")
			flag = core.DefaultFlag(key)
			result = core.EvaluationResult{Variation: core.VariationOff, Reason: ReasonUnhandled}
		}
		span.SetAttributes(
			attribute.Bool("flag.enabled", result.Enabled),
			attribute.String("flag.variation", result.VariationOrOff()),
			attribute.String("flag.handler", result.Handler),
		)
	}()

	// Snapshot now once: every handler in the chain sees the same instant.
	if ec.EvaluationTime.IsZero() {
		ec.EvaluationTime = e.now()
	}

	flag, found := e.resolve(ctx, key)
	if !found {
		result = notFoundResult()
		e.recorder.RecordEvaluation(result.Handler, result.Enabled)
		return flag, result
	}

	result = e.chain.Evaluate(&flag, ec)
	e.recorder.RecordEvaluation(result.Handler, result.Enabled)
	return flag, result
}

// resolve implements the cache, repository, auto-provision lookup. found is
// false when the returned flag is the synthesized default.
func (e *Evaluator) resolve(ctx context.Context, key string) (core.FeatureFlag, bool) {
	if strings.TrimSpace(key) == "" {
		return core.DefaultFlag(key), false
	}

	flag, hit, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.recorder.RecordCacheLookup(CacheError)
		e.logger.Warn("cache lookup failed", "flag_key", key, "error", err)
	case hit:
		e.recorder.RecordCacheLookup(CacheHit)
		return flag, true
	default:
		e.recorder.RecordCacheLookup(CacheMiss)
	}

	generation := e.invalidations.Load()
	flag, err = e.repo.GetFlag(ctx, key)
	if err == nil {
		if e.invalidations.Load() != generation {
			e.logger.Debug("skipping cache fill raced by invalidation", "flag_key", key)
			return flag, true
		}
		if err := e.cache.Set(ctx, key, flag, e.cacheTTL); err != nil {
			e.logger.Warn("cache store failed", "flag_key", key, "error", err)
		}
		return flag, true
	}

	if !errors.Is(err, repository.ErrFlagNotFound) {
		e.recorder.RecordRepositoryError("get")
		e.logger.Error("flag lookup failed", "flag_key", key, "error", err)
		return core.DefaultFlag(key), false
	}

	return e.provision(ctx, key), false
}

// provision best-effort persists the default flag for key. The default is
// never cached so a later edit through the repository takes effect at once.
func (e *Evaluator) provision(ctx context.Context, key string) core.FeatureFlag {
	flag := core.DefaultFlag(key)
	if !e.autoProvision {
		e.recorder.RecordAutoProvision(ProvisionSkipped)
		return flag
	}

	flag.ID = uuid.New()
	now := e.now()
	flag.CreatedAt = now
	flag.UpdatedAt = now

	if _, err := e.repo.CreateFlag(ctx, flag); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			e.recorder.RecordAutoProvision(ProvisionDuplicate)
			e.logger.Debug("flag already provisioned", "flag_key", key)
			return flag
		}
		e.recorder.RecordAutoProvision(ProvisionFailed)
		e.recorder.RecordRepositoryError("create")
		e.logger.Warn("auto-provision failed", "flag_key", key, "error", err)
		return flag
	}

	e.recorder.RecordAutoProvision(ProvisionCreated)
	e.logger.Info("flag auto-provisioned", "flag_key", key)
	return flag
}

func notFoundResult() core.EvaluationResult {
	return core.EvaluationResult{
		Enabled:   false,
		Variation: core.VariationOff,
		Reason:    core.ReasonNotFound,
		Handler:   "not_found",
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (core.FeatureFlag, bool, error) {
	return core.FeatureFlag{}, false, nil
}

func (noopCache) Set(context.Context, string, core.FeatureFlag, time.Duration) error { return nil }

func (noopCache) Delete(context.Context, string) error { return nil }

type noopRecorder struct{}

func (noopRecorder) RecordEvaluation(string, bool) {}
func (noopRecorder) RecordCacheLookup(string)      {}
func (noopRecorder) RecordRepositoryError(string)  {}
func (noopRecorder) RecordAutoProvision(string)    {}
func (noopRecorder) RecordCacheInvalidation()      {}
