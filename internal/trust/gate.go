package trust

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/rpc"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// identityResolver and feedbackSource are the on-chain surfaces the
// gate depends on, narrowed for testing.
type identityResolver interface {
	ResolveByAddress(ctx context.Context, net network.Network, address string) (*AgentIdentity, error)
}

type feedbackSource interface {
	AllFeedback(ctx context.Context, net network.Network, agentID uint64) ([]FeedbackSignal, error)
}

// Gate sits in front of the guard chain and screens recipients against
// the operator's trust policy. The pipeline is cache, identity resolve,
// reputation aggregate, policy evaluate. Registry failures never block
// the caller with an error; the policy's unresolvable action decides.
type Gate struct {
	resolver identityResolver
	feedback feedbackSource
	cache    *Cache
	engine   *Engine
	scoring  *Aggregator
	metrics  *metrics.Metrics
	network  network.Network
	log      zerolog.Logger
	now      func() time.Time

	mu             sync.RWMutex
	defaultPolicy  Policy
	walletPolicies map[string]Policy
}

// NewGate creates a trust gate reading registries through the RPC pool
// and caching in the storage backend.
func NewGate(client *rpc.Client, store storage.Backend, net network.Network, defaultPolicy Policy, met *metrics.Metrics, log zerolog.Logger) *Gate {
	registry := NewRegistryReader(client, log)
	return &Gate{
		resolver:       NewResolver(registry, log),
		feedback:       registry,
		cache:          NewCache(store, met, log),
		engine:         NewEngine(log),
		scoring:        NewAggregator(),
		metrics:        met,
		network:        net,
		log:            log.With().Str("component", "trust_gate").Logger(),
		now:            time.Now,
		defaultPolicy:  defaultPolicy,
		walletPolicies: make(map[string]Policy),
	}
}

// SetPolicy installs a policy for one wallet.
func (g *Gate) SetPolicy(walletID string, policy Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.walletPolicies[walletID] = policy
}

// SetDefaultPolicy replaces the client-wide default policy.
func (g *Gate) SetDefaultPolicy(policy Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultPolicy = policy
}

// PolicyFor returns the active policy for a wallet, falling back to the
// default.
func (g *Gate) PolicyFor(walletID string) Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if walletID != "" {
		if p, ok := g.walletPolicies[walletID]; ok {
			return p
		}
	}
	return g.defaultPolicy
}

// Evaluate runs the full trust pipeline for a payment to recipient.
func (g *Gate) Evaluate(ctx context.Context, recipient string, amount money.Amount, walletID string) (*CheckResult, error) {
	return g.evaluate(ctx, recipient, amount, g.PolicyFor(walletID))
}

// Lookup runs a standalone trust check without a payment, using the
// default policy and a zero amount.
func (g *Gate) Lookup(ctx context.Context, address string) (*CheckResult, error) {
	g.mu.RLock()
	policy := g.defaultPolicy
	g.mu.RUnlock()
	return g.evaluate(ctx, address, money.Zero, policy)
}

func (g *Gate) evaluate(ctx context.Context, recipient string, amount money.Amount, policy Policy) (*CheckResult, error) {
	start := g.now()
	chain := g.network.String()

	identity, cacheHit, err := g.resolveWithCache(ctx, chain, recipient)
	if err != nil {
		return g.unresolvable(policy, err, start), nil
	}

	var reputation *ReputationScore
	if identity != nil {
		reputation, err = g.reputationWithCache(ctx, chain, identity)
		if err != nil {
			return g.unresolvable(policy, err, start), nil
		}
	}

	result := g.engine.Evaluate(identity, reputation, amount, recipient, policy)
	g.finalize(result, policy, cacheHit, start)

	g.log.Info().
		Str("verdict", string(result.Verdict)).
		Str("recipient", recipient).
		Bool("cache_hit", cacheHit).
		Int64("latency_ms", result.CheckLatencyMS).
		Msg("trust evaluated")
	return result, nil
}

// unresolvable builds the result for a registry failure, applying the
// policy's unresolvable action.
func (g *Gate) unresolvable(policy Policy, cause error, start time.Time) *CheckResult {
	g.log.Error().Err(cause).Msg("trust lookup failed")
	result := &CheckResult{
		PolicyID:    policy.PolicyID,
		Verdict:     policy.UnresolvableAction,
		BlockReason: "REGISTRY_ERROR:" + cause.Error(),
		Flags:       []string{"registry_error"},
	}
	g.finalize(result, policy, false, start)
	return result
}

func (g *Gate) finalize(result *CheckResult, policy Policy, cacheHit bool, start time.Time) {
	now := g.now().UTC()
	result.CheckLatencyMS = g.now().Sub(start).Milliseconds()
	result.CacheHit = cacheHit
	result.CheckedAt = &now
	if g.metrics != nil {
		g.metrics.ObserveTrustVerdict(string(result.Verdict), policy.PolicyID)
	}
}

func (g *Gate) resolveWithCache(ctx context.Context, chain, address string) (*AgentIdentity, bool, error) {
	doc, hit, err := g.cache.GetOrFetch(ctx, chain, address, "identity", func(ctx context.Context) (storage.Document, error) {
		identity, err := g.resolver.ResolveByAddress(ctx, g.network, address)
		if err != nil {
			return nil, err
		}
		if identity == nil {
			return nil, nil
		}
		return storage.EncodeDocument(identity)
	})
	if err != nil || doc == nil {
		return nil, hit, err
	}

	var identity AgentIdentity
	if err := storage.DecodeDocument(doc, &identity); err != nil {
		return nil, hit, err
	}
	return &identity, hit, nil
}

func (g *Gate) reputationWithCache(ctx context.Context, chain string, identity *AgentIdentity) (*ReputationScore, error) {
	doc, _, err := g.cache.GetOrFetch(ctx, chain, identity.WalletAddress, "reputation", func(ctx context.Context) (storage.Document, error) {
		signals, err := g.feedback.AllFeedback(ctx, g.network, identity.AgentID)
		if err != nil {
			g.log.Warn().Err(err).Uint64("agent_id", identity.AgentID).Msg("reputation fetch failed")
			signals = nil
		}
		return storage.EncodeDocument(map[string]any{"signals": signals})
	})
	if err != nil {
		return nil, err
	}

	var cached struct {
		Signals []FeedbackSignal `json:"signals"`
	}
	if doc != nil {
		if err := storage.DecodeDocument(doc, &cached); err != nil {
			return nil, err
		}
	}

	score := g.scoring.ComputeWTS(cached.Signals, identity.WalletAddress, nil)
	return &score, nil
}
