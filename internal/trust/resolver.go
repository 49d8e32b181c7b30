package trust

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/network"
)

// metadataTimeout bounds each registration file fetch.
const metadataTimeout = 3 * time.Second

// ipfsGateways are tried in order for ipfs:// URIs.
var ipfsGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://dweb.link/ipfs/",
	"https://w3s.link/ipfs/",
}

// Resolver resolves ERC-8004 agent identities: on-chain reads through
// the registry reader, plus the off-chain registration file from the
// agentURI (HTTPS, IPFS gateway, or base64 data URI).
type Resolver struct {
	registry *RegistryReader
	http     *http.Client
	log      zerolog.Logger
}

// NewResolver creates an identity resolver.
func NewResolver(registry *RegistryReader, log zerolog.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		http:     httputil.NewClient(metadataTimeout),
		log:      log.With().Str("component", "resolver").Logger(),
	}
}

// ResolveByID resolves an agent by its token ID: owner, agentURI, and
// payment wallet from the chain, then the registration file. Returns
// nil when the token does not exist.
func (r *Resolver) ResolveByID(ctx context.Context, net network.Network, agentID uint64) (*AgentIdentity, error) {
	if !Supported(net) {
		return nil, nil
	}

	owner, err := r.registry.AgentOwner(ctx, net, agentID)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, nil
	}

	uri, err := r.registry.AgentURI(ctx, net, agentID)
	if err != nil {
		return nil, err
	}
	agentWallet, err := r.registry.AgentWallet(ctx, net, agentID)
	if err != nil {
		return nil, err
	}

	identity := &AgentIdentity{
		AgentID:       agentID,
		WalletAddress: owner,
		AgentWallet:   agentWallet,
		Active:        true,
	}

	if uri != "" {
		if file := r.fetchRegistration(ctx, uri); file != nil {
			applyRegistration(identity, file, r.log)
		}
	}
	return identity, nil
}

// ResolveByAddress resolves an agent by wallet address, using the
// ERC-721 enumeration to find the first agent token it owns. Returns
// nil when the address holds none.
func (r *Resolver) ResolveByAddress(ctx context.Context, net network.Network, address string) (*AgentIdentity, error) {
	if !Supported(net) {
		return nil, nil
	}

	balance, err := r.registry.BalanceOf(ctx, net, address)
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return nil, nil
	}

	tokenID, found, err := r.registry.TokenOfOwner(ctx, net, address, 0)
	if err != nil || !found {
		return nil, err
	}
	return r.ResolveByID(ctx, net, tokenID)
}

// fetchRegistration fetches and parses a registration file. Failures
// degrade to on-chain data only.
func (r *Resolver) fetchRegistration(ctx context.Context, uri string) *registrationFile {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return r.parseDataURI(uri)
	case strings.HasPrefix(uri, "ipfs://"):
		cid := strings.TrimPrefix(uri, "ipfs://")
		for _, gateway := range ipfsGateways {
			if file := r.fetchHTTPS(ctx, gateway+cid); file != nil {
				return file
			}
		}
		r.log.Warn().Str("cid", truncate(cid, 40)).Msg("all IPFS gateways failed")
		return nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return r.fetchHTTPS(ctx, uri)
	default:
		r.log.Warn().Str("uri", truncate(uri, 50)).Msg("unsupported agentURI scheme")
		return nil
	}
}

func (r *Resolver) fetchHTTPS(ctx context.Context, url string) *registrationFile {
	var file registrationFile
	if err := httputil.DoJSON(ctx, r.http, "GET", url, nil, nil, &file); err != nil {
		r.log.Warn().Err(err).Str("url", truncate(url, 80)).Msg("registration fetch failed")
		return nil
	}
	return &file
}

func (r *Resolver) parseDataURI(uri string) *registrationFile {
	_, encoded, found := strings.Cut(uri, ",")
	if !found {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		r.log.Warn().Err(err).Msg("malformed data URI")
		return nil
	}
	var file registrationFile
	if err := json.Unmarshal(decoded, &file); err != nil {
		r.log.Warn().Err(err).Msg("malformed registration JSON in data URI")
		return nil
	}
	return &file
}

// applyRegistration merges a registration file into an identity built
// from on-chain data.
func applyRegistration(identity *AgentIdentity, file *registrationFile, log zerolog.Logger) {
	if file.Type != "" && file.Type != registrationType {
		log.Warn().Uint64("agent_id", identity.AgentID).Str("type", file.Type).Msg("unexpected registration file type")
	}

	identity.RegistrationType = file.Type
	identity.Name = file.Name
	identity.Description = file.Description
	identity.Organization = file.Organization
	identity.Services = file.Services
	identity.X402Support = file.X402Support
	identity.SupportedTrust = file.SupportedTrust
	identity.Attestations = file.Attestations
	if file.Active != nil {
		identity.Active = *file.Active
	}

	for _, reg := range file.Registrations {
		if reg.AgentID == identity.AgentID {
			identity.AgentRegistry = reg.AgentRegistry
			return
		}
	}
	if len(file.Registrations) > 0 {
		identity.AgentRegistry = file.Registrations[0].AgentRegistry
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
