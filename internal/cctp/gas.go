package cctp

import (
	"fmt"
	"strconv"

	"github.com/agentpay/agentpay-go/internal/network"
)

// Minimum native balance required before attempting the approve and
// burn transactions, in major units of the gas token. Arc pays gas in
// USDC and is exempt.
var gasMinimums = map[network.Network]float64{
	network.Eth:         0.01,
	network.EthSepolia:  0.01,
	network.Avax:        0.1,
	network.AvaxFuji:    0.1,
	network.Op:          0.001,
	network.OpSepolia:   0.001,
	network.Arb:         0.001,
	network.ArbSepolia:  0.001,
	network.Base:        0.001,
	network.BaseSepolia: 0.001,
	network.Matic:       0.1,
	network.MaticAmoy:   0.1,
}

// GasToken names the native gas token for a network.
func GasToken(net network.Network) string {
	switch net {
	case network.Eth, network.EthSepolia, network.Op, network.OpSepolia,
		network.Arb, network.ArbSepolia, network.Base, network.BaseSepolia:
		return "ETH"
	case network.Avax, network.AvaxFuji:
		return "AVAX"
	case network.Matic, network.MaticAmoy:
		return "MATIC"
	case network.ArcTestnet:
		return "USDC"
	default:
		return "native token"
	}
}

// CheckGas verifies a wallet holds enough native balance for a
// cross-chain transfer. The balance is the provider's decimal string.
// Returns ok plus a human-readable shortfall message.
func CheckGas(net network.Network, nativeBalance string) (bool, string) {
	if net == network.ArcTestnet {
		return true, ""
	}
	required, tracked := gasMinimums[net]
	if !tracked {
		return true, ""
	}

	balance, err := strconv.ParseFloat(nativeBalance, 64)
	if err != nil {
		return false, fmt.Sprintf("unreadable native balance %q on %s", nativeBalance, net)
	}
	if balance < required {
		token := GasToken(net)
		return false, fmt.Sprintf(
			"insufficient %s for cross-chain transfer on %s: required %g %s, available %s %s",
			token, net, required, token, nativeBalance, token)
	}
	return true, ""
}
