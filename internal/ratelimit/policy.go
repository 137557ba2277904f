package ratelimit

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/omarluq/quota-relay/internal/bucket"
	"github.com/omarluq/quota-relay/internal/store"
)

// Policy is the quota of one external API: a bucket capacity and refill rate.
// Policies are built once at startup and never change afterwards.
type Policy struct {
	// Name is the API name used as the first half of every bucket key.
	Name string `json:"name"`

	// DefaultEndpoint is used when a call does not name an endpoint.
	DefaultEndpoint string `json:"default_endpoint"`

	// MaxTokens is the bucket capacity.
	MaxTokens int `json:"max_tokens"`

	// RefillRate is the number of tokens added per second.
	RefillRate float64 `json:"refill_rate"`
}

// NewPolicy builds a policy that allows maxTokens calls per window.
func NewPolicy(name string, maxTokens int, window time.Duration) Policy {
	return Policy{
		Name:            name,
		DefaultEndpoint: store.DefaultEndpoint,
		MaxTokens:       maxTokens,
		RefillRate:      float64(maxTokens) / window.Seconds(),
	}
}

// Validate checks the policy limits.
func (p Policy) Validate() error {
	if p.Name == "" {
		return &ConfigurationError{Field: "policy", Reason: "name is required"}
	}
	return bucket.ValidateLimits(p.MaxTokens, p.RefillRate)
}

// Window returns the time a drained bucket takes to refill completely.
func (p Policy) Window() time.Duration {
	if p.RefillRate <= 0 {
		return 0
	}
	return time.Duration(float64(p.MaxTokens) / p.RefillRate * float64(time.Second))
}

// Limits returns the store limits for buckets of this policy.
func (p Policy) Limits() store.Limits {
	return store.Limits{MaxTokens: p.MaxTokens, RefillRate: p.RefillRate}
}

func (p Policy) endpoint(endpoint string) string {
	if endpoint != "" {
		return endpoint
	}
	if p.DefaultEndpoint != "" {
		return p.DefaultEndpoint
	}
	return store.DefaultEndpoint
}

// DefaultPolicies returns the built-in quota presets.
func DefaultPolicies() []Policy {
	return []Policy{
		NewPolicy("coinbase", 30, time.Second),
		NewPolicy("taapi", 15, 15*time.Second),
		NewPolicy("twitter", 100, 900*time.Second),
		NewPolicy("scrapingbee", 10, time.Second),
		NewPolicy("grok", 20, time.Minute),
		NewPolicy("perplexity", 20, time.Minute),
		NewPolicy("anthropic", 50, time.Minute),
		NewPolicy("coindesk", 100, time.Hour),
	}
}

// PolicyOverride adjusts a built-in policy or defines a new one from
// configuration. Zero fields keep the built-in value.
type PolicyOverride struct {
	DefaultEndpoint string `yaml:"default_endpoint" toml:"default_endpoint"`

	// MaxTokens overrides the bucket capacity.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens"`

	// RefillRate overrides the refill rate in tokens per second.
	RefillRate float64 `yaml:"refill_rate" toml:"refill_rate"`

	// WindowSeconds derives the refill rate as max_tokens / window_seconds
	// when refill_rate is not set.
	WindowSeconds float64 `yaml:"window_seconds" toml:"window_seconds"`
}

func (o PolicyOverride) apply(p Policy) Policy {
	if o.MaxTokens != 0 {
		p.MaxTokens = o.MaxTokens
	}
	switch {
	case o.RefillRate != 0:
		p.RefillRate = o.RefillRate
	case o.WindowSeconds > 0:
		p.RefillRate = float64(p.MaxTokens) / o.WindowSeconds
	}
	if o.DefaultEndpoint != "" {
		p.DefaultEndpoint = o.DefaultEndpoint
	}
	return p
}

// Registry resolves API names to policies. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the built-in presets plus overrides.
// An override for an unknown name defines a new policy and must then carry
// max_tokens and either refill_rate or window_seconds.
func NewRegistry(overrides map[string]PolicyOverride) (*Registry, error) {
	policies := lo.SliceToMap(DefaultPolicies(), func(p Policy) (string, Policy) {
		return p.Name, p
	})

	for name, o := range overrides {
		base, ok := policies[name]
		if !ok {
			base = Policy{Name: name, DefaultEndpoint: store.DefaultEndpoint}
		}
		p := o.apply(base)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		policies[name] = p
	}

	return &Registry{policies: policies}, nil
}

// Resolve returns the policy registered under name.
func (r *Registry) Resolve(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, &ConfigurationError{Field: "policy", Reason: "unknown api", Value: name}
	}
	return p, nil
}

// Names returns the registered API names in sorted order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.policies)
	slices.Sort(names)
	return names
}

// All returns every policy sorted by name.
func (r *Registry) All() []Policy {
	return lo.Map(r.Names(), func(name string, _ int) Policy {
		return r.policies[name]
	})
}
