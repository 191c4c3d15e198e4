package registry

import (
	"fmt"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Chain is static metadata for one supported chain: its burn/mint
// protocol domain, contract addresses and explorer endpoint.
type Chain struct {
	ChainID            string `yaml:"chain_id"`
	Name               string `yaml:"name"`
	NativeToken        string `yaml:"native_token"`
	Domain             int32  `yaml:"domain"`
	TokenMessenger     string `yaml:"token_messenger"`
	MessageTransmitter string `yaml:"message_transmitter"`
	USDCAddress        string `yaml:"usdc_address"`
	ExplorerURL        string `yaml:"explorer_url"`
}

// BridgeSupported reports whether the chain participates in the burn/mint
// protocol. Chains without a deployed token messenger cannot bridge.
func (c Chain) BridgeSupported() bool {
	return c.TokenMessenger != "" && c.TokenMessenger != zeroAddress
}

// Registry is a read-only lookup table, safe for unsynchronized
// concurrent reads after construction.
type Registry struct {
	chains map[string]Chain
}

// Defaults returns the production chain table.
func Defaults() []Chain {
	return []Chain{
		{
			ChainID:            "1",
			Name:               "Ethereum",
			NativeToken:        "ETH",
			Domain:             0,
			TokenMessenger:     "0xBd3fa81B58Ba92a82136038B25aDec7066af3155",
			MessageTransmitter: "0x0a992d191DEeC32aFe36203Ad87D7d289a738F81",
			USDCAddress:        "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			ExplorerURL:        "https://etherscan.io",
		},
		{
			ChainID:            "10",
			Name:               "Optimism",
			NativeToken:        "ETH",
			Domain:             2,
			TokenMessenger:     "0x2B4069517957735bE00ceE0fadAE5d71A34e3556",
			MessageTransmitter: "0x4D41f22c5a0e5c74090899E5a8Fb597a8842b3e8",
			USDCAddress:        "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
			ExplorerURL:        "https://optimistic.etherscan.io",
		},
		{
			ChainID:            "42161",
			Name:               "Arbitrum",
			NativeToken:        "ETH",
			Domain:             3,
			TokenMessenger:     "0x19330d10D9Cc8751218eaf51E8885D058642E08A",
			MessageTransmitter: "0xC30362313FBBA5cf9163F0bb16a0e01f01A896ca",
			USDCAddress:        "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			ExplorerURL:        "https://arbiscan.io",
		},
		{
			ChainID:            "137",
			Name:               "Polygon",
			NativeToken:        "MATIC",
			Domain:             7,
			TokenMessenger:     "0x9daF8c91AEFAE50b9c0E69629D3F6Ca40cA3B3FE",
			MessageTransmitter: "0xF3be9355363857F3e001be68856A2f96b4C39Ba9",
			USDCAddress:        "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			ExplorerURL:        "https://polygonscan.com",
		},
		{
			// BSC has no token messenger deployed; balances are tracked
			// but bridging to or from it is rejected.
			ChainID:            "56",
			Name:               "BSC",
			NativeToken:        "BNB",
			Domain:             6,
			TokenMessenger:     zeroAddress,
			MessageTransmitter: zeroAddress,
			USDCAddress:        "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
			ExplorerURL:        "https://bscscan.com",
		},
	}
}

// New builds a registry from the default table plus any overrides from
// configuration. An override with a known chain id replaces the default.
func New(overrides []Chain) *Registry {
	chains := make(map[string]Chain)
	for _, c := range Defaults() {
		chains[c.ChainID] = c
	}
	for _, c := range overrides {
		chains[c.ChainID] = c
	}
	return &Registry{chains: chains}
}

func (r *Registry) Lookup(chainID string) (Chain, bool) {
	c, ok := r.chains[chainID]
	return c, ok
}

// SupportsBridge reports whether a burn/mint transfer between the two
// chains is possible.
func (r *Registry) SupportsBridge(sourceChainID, destChainID string) bool {
	src, ok := r.chains[sourceChainID]
	if !ok {
		return false
	}
	dst, ok := r.chains[destChainID]
	if !ok {
		return false
	}
	return src.BridgeSupported() && dst.BridgeSupported()
}

// ExplorerTxURL returns the block-explorer link for a transaction hash,
// or "" when the chain is unknown.
func (r *Registry) ExplorerTxURL(chainID, txHash string) string {
	c, ok := r.chains[chainID]
	if !ok || txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.ExplorerURL, txHash)
}

// Chains returns the full table, for diagnostics and route listings.
func (r *Registry) Chains() []Chain {
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	return out
}
