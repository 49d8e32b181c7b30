package trust

import (
	"fmt"

	"github.com/agentpay/agentpay-go/internal/network"
)

// Deployed ERC-8004 registry addresses. The testnet deployments share
// one address across chains.
var identityRegistries = map[network.Network]string{
	network.Eth:         "0x8004A169FB4a3325136EB29fA0ceB6D2e539a432",
	network.EthSepolia:  "0x8004A818BFB912233c491871b3d84c89A494BD9e",
	network.BaseSepolia: "0x8004A818BFB912233c491871b3d84c89A494BD9e",
}

var reputationRegistries = map[network.Network]string{
	network.Eth:         "0x8004BAa17C55a88189AE136b182e5fdA19dE9b63",
	network.EthSepolia:  "0x8004B663056A597Dffe9eCcC1965A193B7388713",
	network.BaseSepolia: "0x8004B663056A597Dffe9eCcC1965A193B7388713",
}

// chainIDs for building CAIP-style agentRegistry identifiers.
var chainIDs = map[network.Network]int64{
	network.Eth:         1,
	network.EthSepolia:  11155111,
	network.Base:        8453,
	network.BaseSepolia: 84532,
	network.Arb:         42161,
	network.ArbSepolia:  421614,
	network.Matic:       137,
	network.MaticAmoy:   80002,
	network.Op:          10,
	network.OpSepolia:   11155420,
}

// Function selectors for the registry calls we make.
const (
	selOwnerOf             = "6352211e" // ownerOf(uint256)
	selTokenURI            = "c87b56dd" // tokenURI(uint256)
	selBalanceOf           = "70a08231" // balanceOf(address)
	selTokenOfOwnerByIndex = "2f745c59" // tokenOfOwnerByIndex(address,uint256)
	selGetAgentWallet      = "00339509" // getAgentWallet(uint256)
	selGetClients          = "42dd519c" // getClients(uint256)
	selGetLastIndex        = "f2d81759" // getLastIndex(uint256,address)
	selReadFeedback        = "232b0810" // readFeedback(uint256,address,uint64)
)

// Supported reports whether ERC-8004 registries are deployed on the
// network.
func Supported(net network.Network) bool {
	_, ok := identityRegistries[net]
	return ok
}

// IdentityRegistry returns the Identity Registry address for a network,
// empty when none is deployed.
func IdentityRegistry(net network.Network) string {
	return identityRegistries[net]
}

// ReputationRegistry returns the Reputation Registry address for a
// network, empty when none is deployed.
func ReputationRegistry(net network.Network) string {
	return reputationRegistries[net]
}

// AgentRegistryID builds the CAIP-like registry identifier used in
// registration files, eip155:{chainId}:{registry}.
func AgentRegistryID(net network.Network) string {
	chainID, ok := chainIDs[net]
	registry := identityRegistries[net]
	if !ok || registry == "" {
		return ""
	}
	return fmt.Sprintf("eip155:%d:%s", chainID, registry)
}
