package trust

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/rpc"
)

// maxFeedbackSignals bounds how many feedback entries AllFeedback reads
// for one agent.
const maxFeedbackSignals = 200

const zeroAddress = "0x0000000000000000000000000000000000000000"

// RegistryReader performs read-only calls against the ERC-8004
// Identity and Reputation registries over JSON-RPC.
type RegistryReader struct {
	rpc *rpc.Client
	log zerolog.Logger
}

// NewRegistryReader creates a registry reader over the RPC pool.
func NewRegistryReader(client *rpc.Client, log zerolog.Logger) *RegistryReader {
	return &RegistryReader{
		rpc: client,
		log: log.With().Str("component", "registry").Logger(),
	}
}

// AgentOwner reads ownerOf(agentId). Empty when the token is unminted.
func (r *RegistryReader) AgentOwner(ctx context.Context, net network.Network, agentID uint64) (string, error) {
	result, err := r.rpc.EthCall(ctx, net, IdentityRegistry(net), rpc.EncodeCall(selOwnerOf, rpc.Uint64Word(agentID)))
	if err != nil || result == "" {
		return "", err
	}
	addr, err := rpc.DecodeAddress(result, 0)
	if err != nil {
		return "", err
	}
	if addr == zeroAddress {
		return "", nil
	}
	return addr, nil
}

// AgentURI reads tokenURI(agentId), the agent's registration file URI.
func (r *RegistryReader) AgentURI(ctx context.Context, net network.Network, agentID uint64) (string, error) {
	result, err := r.rpc.EthCall(ctx, net, IdentityRegistry(net), rpc.EncodeCall(selTokenURI, rpc.Uint64Word(agentID)))
	if err != nil || result == "" {
		return "", err
	}
	return rpc.DecodeString(result)
}

// AgentWallet reads getAgentWallet(agentId), the agent's payment
// address. Empty when unset.
func (r *RegistryReader) AgentWallet(ctx context.Context, net network.Network, agentID uint64) (string, error) {
	result, err := r.rpc.EthCall(ctx, net, IdentityRegistry(net), rpc.EncodeCall(selGetAgentWallet, rpc.Uint64Word(agentID)))
	if err != nil || result == "" {
		return "", err
	}
	addr, err := rpc.DecodeAddress(result, 0)
	if err != nil {
		return "", err
	}
	if addr == zeroAddress {
		return "", nil
	}
	return addr, nil
}

// BalanceOf reads balanceOf(owner), the number of agent tokens held.
func (r *RegistryReader) BalanceOf(ctx context.Context, net network.Network, owner string) (uint64, error) {
	result, err := r.rpc.EthCall(ctx, net, IdentityRegistry(net), rpc.EncodeCall(selBalanceOf, rpc.AddressWord(owner)))
	if err != nil || result == "" {
		return 0, err
	}
	v, err := rpc.DecodeUint256(result, 0)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// TokenOfOwner reads tokenOfOwnerByIndex(owner, index). The boolean
// reports whether a token exists at that index.
func (r *RegistryReader) TokenOfOwner(ctx context.Context, net network.Network, owner string, index uint64) (uint64, bool, error) {
	result, err := r.rpc.EthCall(ctx, net, IdentityRegistry(net),
		rpc.EncodeCall(selTokenOfOwnerByIndex, rpc.AddressWord(owner), rpc.Uint64Word(index)))
	if err != nil || result == "" {
		return 0, false, err
	}
	v, err := rpc.DecodeUint256(result, 0)
	if err != nil {
		return 0, false, err
	}
	return v.Uint64(), true, nil
}

// FeedbackClients reads getClients(agentId), the addresses that have
// left feedback for the agent.
func (r *RegistryReader) FeedbackClients(ctx context.Context, net network.Network, agentID uint64) ([]string, error) {
	result, err := r.rpc.EthCall(ctx, net, ReputationRegistry(net), rpc.EncodeCall(selGetClients, rpc.Uint64Word(agentID)))
	if err != nil || result == "" {
		return nil, err
	}
	return rpc.DecodeAddressArray(result)
}

// LastFeedbackIndex reads getLastIndex(agentId, client). Feedback
// indexes start at 1; zero means none.
func (r *RegistryReader) LastFeedbackIndex(ctx context.Context, net network.Network, agentID uint64, client string) (uint64, error) {
	result, err := r.rpc.EthCall(ctx, net, ReputationRegistry(net),
		rpc.EncodeCall(selGetLastIndex, rpc.Uint64Word(agentID), rpc.AddressWord(client)))
	if err != nil || result == "" {
		return 0, err
	}
	v, err := rpc.DecodeUint256(result, 0)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// ReadFeedback reads one feedback entry:
// readFeedback(agentId, client, index) returns
// (int128 value, uint8 decimals, string tag1, string tag2, bool revoked).
func (r *RegistryReader) ReadFeedback(ctx context.Context, net network.Network, agentID uint64, client string, index uint64) (*FeedbackSignal, error) {
	result, err := r.rpc.EthCall(ctx, net, ReputationRegistry(net),
		rpc.EncodeCall(selReadFeedback, rpc.Uint64Word(agentID), rpc.AddressWord(client), rpc.Uint64Word(index)))
	if err != nil || result == "" {
		return nil, err
	}

	value, err := rpc.DecodeInt128(result, 0)
	if err != nil {
		return nil, err
	}
	decimals, err := rpc.DecodeUint256(result, 1)
	if err != nil {
		return nil, err
	}
	tag1, err := rpc.DecodeStringAt(result, 2)
	if err != nil {
		return nil, err
	}
	tag2, err := rpc.DecodeStringAt(result, 3)
	if err != nil {
		return nil, err
	}
	revoked, err := rpc.DecodeUint256(result, 4)
	if err != nil {
		return nil, err
	}

	// Scores past int64 range carry no meaning for a 0-100 scale and
	// would only saturate the clamp anyway.
	rawValue := value.Int64()
	if !value.IsInt64() {
		if value.Sign() > 0 {
			rawValue = 1<<63 - 1
		} else {
			rawValue = -(1 << 63)
		}
	}

	return &FeedbackSignal{
		AgentID:       agentID,
		ClientAddress: client,
		FeedbackIndex: index,
		Value:         rawValue,
		ValueDecimals: uint8(decimals.Uint64()),
		Tag1:          strings.TrimRight(tag1, "\x00"),
		Tag2:          strings.TrimRight(tag2, "\x00"),
		IsRevoked:     revoked.Sign() != 0,
	}, nil
}

// AllFeedback walks every client's feedback entries for an agent, up to
// maxFeedbackSignals. Individual decode failures are skipped.
func (r *RegistryReader) AllFeedback(ctx context.Context, net network.Network, agentID uint64) ([]FeedbackSignal, error) {
	clients, err := r.FeedbackClients(ctx, net, agentID)
	if err != nil {
		return nil, err
	}

	var signals []FeedbackSignal
	for _, client := range clients {
		if len(signals) >= maxFeedbackSignals {
			break
		}
		last, err := r.LastFeedbackIndex(ctx, net, agentID, client)
		if err != nil {
			return nil, err
		}
		for idx := uint64(1); idx <= last && len(signals) < maxFeedbackSignals; idx++ {
			signal, err := r.ReadFeedback(ctx, net, agentID, client, idx)
			if err != nil {
				r.log.Debug().Err(err).Uint64("agent_id", agentID).Str("client", client).Msg("skipping unreadable feedback entry")
				continue
			}
			if signal != nil {
				signals = append(signals, *signal)
			}
		}
	}
	return signals, nil
}
