package application

import "github.com/ethereum/go-ethereum/common"

var (
	DefaultSettlementAddress = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	DefaultNativeToken       = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	DefaultWrappedNative     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

// Network holds the chain-specific addresses used while reconstructing swaps.
type Network struct {
	Settlement common.Address
	Native     common.Address
	Wrapped    common.Address
}

func DefaultNetwork() Network {
	return Network{
		Settlement: DefaultSettlementAddress,
		Native:     DefaultNativeToken,
		Wrapped:    DefaultWrappedNative,
	}
}

// WrapNative maps the native asset placeholder to its wrapped token.
func (n Network) WrapNative(token common.Address) common.Address {
	if token == n.Native {
		return n.Wrapped
	}
	return token
}

func (n Network) withDefaults() Network {
	if n.Settlement == (common.Address{}) {
		n.Settlement = DefaultSettlementAddress
	}
	if n.Native == (common.Address{}) {
		n.Native = DefaultNativeToken
	}
	if n.Wrapped == (common.Address{}) {
		n.Wrapped = DefaultWrappedNative
	}
	return n
}
