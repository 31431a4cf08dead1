package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matt-riley/flagchain/internal/core"
	"github.com/matt-riley/flagchain/internal/repository"
)

type fakeRepository struct {
	mu        sync.Mutex
	flags     map[string]core.FeatureFlag
	getErr    error
	createErr error
	getPanic  bool
	onGet     func()
	gets      int
	created   []core.FeatureFlag
	contexts  []context.Context
}

func newFakeRepository(flags ...core.FeatureFlag) *fakeRepository {
	repo := &fakeRepository{flags: make(map[string]core.FeatureFlag)}
	for _, flag := range flags {
		repo.flags[flag.Key] = flag
	}
	return repo
}

func (r *fakeRepository) GetFlag(ctx context.Context, key string) (core.FeatureFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gets++
	r.contexts = append(r.contexts, ctx)
	if r.onGet != nil {
		r.onGet()
	}
	if r.getPanic {
		panic("repository exploded")
	}
	if r.getErr != nil {
		return core.FeatureFlag{}, r.getErr
	}
	flag, ok := r.flags[key]
	if !ok {
		return core.FeatureFlag{}, fmt.Errorf("get flag %q: %w", key, repository.ErrFlagNotFound)
	}
	return flag, nil
}

func (r *fakeRepository) CreateFlag(ctx context.Context, flag core.FeatureFlag) (core.FeatureFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.contexts = append(r.contexts, ctx)
	r.created = append(r.created, flag)
	if r.createErr != nil {
		return core.FeatureFlag{}, r.createErr
	}
	return flag, nil
}

func (r *fakeRepository) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func (r *fakeRepository) createdFlags() []core.FeatureFlag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.FeatureFlag(nil), r.created...)
}

type cacheWrite struct {
	key string
	ttl time.Duration
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]core.FeatureFlag
	getErr  error
	setErr  error
	writes  []cacheWrite
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]core.FeatureFlag)}
}

func (c *fakeCache) Get(_ context.Context, key string) (core.FeatureFlag, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getErr != nil {
		return core.FeatureFlag{}, false, c.getErr
	}
	flag, ok := c.entries[key]
	return flag, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, flag core.FeatureFlag, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes = append(c.writes, cacheWrite{key: key, ttl: ttl})
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = flag
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deletes = append(c.deletes, key)
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeCache) deleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deletes)
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type fakeRecorder struct {
	mu          sync.Mutex
	evaluations map[string]int
	lookups     map[string]int
	repoErrors  map[string]int
	provisions  map[string]int
	evictions   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		evaluations: make(map[string]int),
		lookups:     make(map[string]int),
		repoErrors:  make(map[string]int),
		provisions:  make(map[string]int),
	}
}

func (r *fakeRecorder) RecordEvaluation(handler string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations[fmt.Sprintf("%s/%t", handler, enabled)]++
}

func (r *fakeRecorder) RecordCacheLookup(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[result]++
}

func (r *fakeRecorder) RecordRepositoryError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repoErrors[op]++
}

func (r *fakeRecorder) RecordAutoProvision(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisions[outcome]++
}

func (r *fakeRecorder) RecordCacheInvalidation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions++
}

func (r *fakeRecorder) invalidations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictions
}
