package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Purpose names a routing slot. The pipeline uses one model for statement
// generation and may use a cheaper one for feedback fact extraction.
type Purpose string

const (
	PurposeGenerate Purpose = "generate"
	PurposeExtract  Purpose = "extract"
)

// Router manages the registered providers and routes requests by purpose,
// falling back through the configured chain when the primary fails.
type Router struct {
	providers map[string]Provider
	bindings  map[Purpose]string // purpose -> providerID
	fallbacks []string           // tried in order after the primary
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[Purpose]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Bind routes a purpose to a specific provider.
func (r *Router) Bind(purpose Purpose, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[purpose] = providerID
}

// SetFallbacks configures the fallback provider chain.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providerIDs
}

// Route sends a chat request through the provider bound to the purpose,
// trying fallbacks in order when it fails.
func (r *Router) Route(ctx context.Context, purpose Purpose, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.getProvider(purpose)
	if primary == nil {
		return nil, fmt.Errorf("no provider available for purpose %s", purpose)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		// Cancellation or deadline: do not burn the fallback chain.
		return nil, err
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("purpose", string(purpose)), zap.Error(err))

	for _, fbID := range r.fallbacks {
		fb, ok := r.providers[fbID]
		if !ok || fb == primary {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for purpose %s: %w", purpose, err)
}

func (r *Router) getProvider(purpose Purpose) Provider {
	if pid, ok := r.bindings[purpose]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}
