package ratelimit

import (
	"context"
	"sort"
	"sync"
)

// Endpoint names used by the Slack platform and the LLM generator.
const (
	EndpointConversationsReplies = "conversations.replies"
	EndpointConversationsHistory = "conversations.history"
	EndpointChatPostMessage      = "chat.postMessage"
	EndpointUsersInfo            = "users.info"
	EndpointConversationsInfo    = "conversations.info"
	EndpointLLM                  = "llm"
)

// DefaultEndpointTiers maps known endpoints to their Slack tier.
var DefaultEndpointTiers = map[string]Tier{
	EndpointConversationsReplies: Tier3,
	EndpointConversationsHistory: Tier3,
	EndpointChatPostMessage:      Tier4,
	EndpointUsersInfo:            Tier4,
	EndpointConversationsInfo:    Tier3,
	EndpointLLM:                  Tier4,
}

// Registry routes each endpoint to the limiter of its tier. Endpoints without
// a mapping use tier2.
type Registry struct {
	mu        sync.RWMutex
	tiers     map[string]Tier
	overrides map[string]Config
	limiters  map[string]*Limiter
	opts      []Option
}

// NewRegistry creates a registry. overrides replace tier defaults per endpoint;
// zero fields in an override still take the tier default.
func NewRegistry(overrides map[string]Config, opts ...Option) *Registry {
	tiers := make(map[string]Tier, len(DefaultEndpointTiers))
	for k, v := range DefaultEndpointTiers {
		tiers[k] = v
	}
	return &Registry{
		tiers:     tiers,
		overrides: overrides,
		limiters:  make(map[string]*Limiter),
		opts:      opts,
	}
}

// TierOf returns the tier an endpoint is limited under.
func (r *Registry) TierOf(endpoint string) Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tier, ok := r.tiers[endpoint]; ok {
		return tier
	}
	return Tier2
}

// SetTier changes the tier of an endpoint. Existing state for it is dropped.
func (r *Registry) SetTier(endpoint string, tier Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[endpoint] = tier
	delete(r.limiters, endpoint)
}

// For returns the limiter responsible for endpoint.
func (r *Registry) For(endpoint string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[endpoint]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[endpoint]; ok {
		return l
	}
	tier, ok := r.tiers[endpoint]
	if !ok {
		tier = Tier2
	}
	l = NewLimiter(tier, r.overrides[endpoint], r.opts...)
	r.limiters[endpoint] = l
	return l
}

// Acquire admits one request on endpoint.
func (r *Registry) Acquire(endpoint string) error {
	return r.For(endpoint).Acquire(endpoint)
}

// RecordSuccess records a successful call on endpoint.
func (r *Registry) RecordSuccess(endpoint string) {
	r.For(endpoint).RecordSuccess(endpoint)
}

// RecordFailure records a failed call on endpoint.
func (r *Registry) RecordFailure(endpoint string) {
	r.For(endpoint).RecordFailure(endpoint)
}

// Guard runs fn under the endpoint's limiter.
func (r *Registry) Guard(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	return r.For(endpoint).Guard(ctx, endpoint, fn)
}

// Statuses returns a snapshot for every endpoint that has been used, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		out = append(out, r.For(name).Status(name))
	}
	return out
}
