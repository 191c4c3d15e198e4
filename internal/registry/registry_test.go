package registry

import (
	"testing"
)

func TestLookupDefaults(t *testing.T) {
	reg := New(nil)

	eth, ok := reg.Lookup("1")
	if !ok {
		t.Fatal("Ethereum missing from default table")
	}
	if eth.Name != "Ethereum" || eth.Domain != 0 {
		t.Errorf("unexpected Ethereum entry: %+v", eth)
	}

	if _, ok := reg.Lookup("999999"); ok {
		t.Error("Lookup of unknown chain id succeeded")
	}
}

func TestSupportsBridge(t *testing.T) {
	reg := New(nil)

	if !reg.SupportsBridge("1", "42161") {
		t.Error("Ethereum -> Arbitrum should be bridgeable")
	}
	if !reg.SupportsBridge("10", "137") {
		t.Error("Optimism -> Polygon should be bridgeable")
	}

	// BSC has no token messenger deployed.
	if reg.SupportsBridge("1", "56") {
		t.Error("bridging to BSC should be rejected")
	}
	if reg.SupportsBridge("56", "1") {
		t.Error("bridging from BSC should be rejected")
	}

	if reg.SupportsBridge("1", "999999") {
		t.Error("bridging to an unknown chain should be rejected")
	}
}

func TestOverrides(t *testing.T) {
	reg := New([]Chain{
		{
			ChainID:        "56",
			Name:           "BSC",
			NativeToken:    "BNB",
			Domain:         6,
			TokenMessenger: "0x1111111111111111111111111111111111111111",
			USDCAddress:    "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
			ExplorerURL:    "https://bscscan.com",
		},
	})

	if !reg.SupportsBridge("1", "56") {
		t.Error("override with a token messenger should enable bridging to BSC")
	}

	// Other defaults survive the override.
	if _, ok := reg.Lookup("137"); !ok {
		t.Error("Polygon dropped after applying overrides")
	}
}

func TestExplorerTxURL(t *testing.T) {
	reg := New(nil)

	got := reg.ExplorerTxURL("1", "0xabc")
	want := "https://etherscan.io/tx/0xabc"
	if got != want {
		t.Errorf("ExplorerTxURL = %q, want %q", got, want)
	}

	if got := reg.ExplorerTxURL("999999", "0xabc"); got != "" {
		t.Errorf("ExplorerTxURL for unknown chain = %q, want empty", got)
	}
	if got := reg.ExplorerTxURL("1", ""); got != "" {
		t.Errorf("ExplorerTxURL with empty hash = %q, want empty", got)
	}
}

func TestBridgeSupported(t *testing.T) {
	c := Chain{TokenMessenger: zeroAddress}
	if c.BridgeSupported() {
		t.Error("zero-address token messenger should not be bridge supported")
	}
	c.TokenMessenger = ""
	if c.BridgeSupported() {
		t.Error("empty token messenger should not be bridge supported")
	}
	c.TokenMessenger = "0x2B4069517957735bE00ceE0fadAE5d71A34e3556"
	if !c.BridgeSupported() {
		t.Error("deployed token messenger should be bridge supported")
	}
}
