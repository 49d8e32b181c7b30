package payment

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/network"
)

// Fixed adapter priorities. URLs route to x402 before anything else;
// explicit destination chains route to cross-chain; plain addresses
// fall through to direct transfer.
const (
	PriorityX402       = 10
	PriorityCrossChain = 30
	PriorityTransfer   = 50
)

// networkResolver maps a wallet to the blockchain it lives on.
type networkResolver interface {
	Network(ctx context.Context, walletID string) (network.Network, error)
}

// Router selects the protocol adapter for each payment. Routing never
// returns an error: an unroutable recipient yields a failed result.
type Router struct {
	wallets  networkResolver
	adapters []Adapter
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewRouter creates an empty router; adapters register afterwards.
func NewRouter(wallets networkResolver, met *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{
		wallets: wallets,
		metrics: met,
		log:     log.With().Str("component", "router").Logger(),
	}
}

// Register adds an adapter, keeping the list sorted by priority.
// Equal priorities keep registration order.
func (r *Router) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
	sort.SliceStable(r.adapters, func(i, j int) bool {
		return r.adapters[i].Priority() < r.adapters[j].Priority()
	})
}

// Unregister removes all adapters for a method.
func (r *Router) Unregister(method Method) {
	kept := r.adapters[:0]
	for _, a := range r.adapters {
		if a.Method() != method {
			kept = append(kept, a)
		}
	}
	r.adapters = kept
}

// Adapters returns the registered adapters in routing order.
func (r *Router) Adapters() []Adapter {
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Normalize rewrites a legacy "chain:address" recipient into a plain
// address with the chain as the destination.
func Normalize(req Request) Request {
	if n, addr, ok := network.SplitChainAddress(req.Recipient); ok {
		req.Recipient = addr
		if req.DestinationChain == "" {
			req.DestinationChain = n
		}
	}
	return req
}

// DetectMethod reports which method would handle a recipient.
func (r *Router) DetectMethod(recipient string, source, destination network.Network) (Method, bool) {
	if n, addr, ok := network.SplitChainAddress(recipient); ok {
		recipient = addr
		if destination == "" {
			destination = n
		}
	}
	if a := r.find(recipient, source, destination); a != nil {
		return a.Method(), true
	}
	return "", false
}

// CanHandle reports whether any adapter accepts the recipient.
func (r *Router) CanHandle(recipient string, source network.Network) bool {
	return r.find(recipient, source, "") != nil
}

func (r *Router) find(recipient string, source, destination network.Network) Adapter {
	for _, a := range r.adapters {
		if a.Supports(recipient, source, destination) {
			return a
		}
	}
	return nil
}

// Pay resolves the source network, picks an adapter, and delegates.
// No retries happen at this layer.
func (r *Router) Pay(ctx context.Context, req Request) *Result {
	req = Normalize(req)
	source, err := r.wallets.Network(ctx, req.WalletID)
	if err != nil {
		return Failed(req, MethodTransfer, "source network resolution failed: "+err.Error())
	}

	adapter := r.find(req.Recipient, source, req.DestinationChain)
	if adapter == nil {
		r.log.Error().Str("recipient", req.Recipient).Msg("no adapter found for recipient")
		return Failed(req, MethodTransfer, "no adapter found for recipient: "+req.Recipient)
	}

	start := time.Now()
	result := adapter.Execute(ctx, req, source)
	if r.metrics != nil {
		r.metrics.ObservePayment(string(adapter.Method()), source.String(),
			result.Success, time.Since(start), req.Amount.Atomic)
		if !result.Success {
			r.metrics.ObservePaymentFailure(string(adapter.Method()), source.String(), string(result.Status))
		}
	}
	r.log.Info().
		Str("method", string(adapter.Method())).
		Str("status", string(result.Status)).
		Str("wallet_id", req.WalletID).
		Bool("success", result.Success).
		Msg("payment routed")
	return result
}

// Simulate runs the selected adapter's dry-run path.
func (r *Router) Simulate(ctx context.Context, req Request) *Simulation {
	req = Normalize(req)
	source, err := r.wallets.Network(ctx, req.WalletID)
	if err != nil {
		return &Simulation{Route: MethodTransfer, Reason: "source network resolution failed: " + err.Error()}
	}

	adapter := r.find(req.Recipient, source, req.DestinationChain)
	if adapter == nil {
		return &Simulation{Route: MethodTransfer, Reason: "no adapter found for recipient: " + req.Recipient}
	}
	sim := adapter.Simulate(ctx, req, source)
	sim.Route = adapter.Method()
	return sim
}

// SupportedFormats describes accepted recipient shapes per method.
func (r *Router) SupportedFormats() map[Method]string {
	return map[Method]string{
		MethodTransfer:   "blockchain address (0x... for EVM, Base58 for Solana)",
		MethodX402:       "HTTPS URL (https://api.example.com)",
		MethodCrossChain: "address plus an explicit destination chain",
	}
}
