package application

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const settlementABIJSON = `[
	{"anonymous":false,"name":"Trade","type":"event","inputs":[
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"sellToken","type":"address"},
		{"indexed":false,"name":"buyToken","type":"address"},
		{"indexed":false,"name":"sellAmount","type":"uint256"},
		{"indexed":false,"name":"buyAmount","type":"uint256"},
		{"indexed":false,"name":"feeAmount","type":"uint256"},
		{"indexed":false,"name":"orderUid","type":"bytes"}
	]},
	{"anonymous":false,"name":"Interaction","type":"event","inputs":[
		{"indexed":true,"name":"target","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"},
		{"indexed":false,"name":"selector","type":"bytes4"}
	]}
]`

const erc20ABIJSON = `[
	{"anonymous":false,"name":"Transfer","type":"event","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}
	]}
]`

var (
	settlementABI = mustParseABI(settlementABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)

	tradeEvent       = settlementABI.Events["Trade"]
	interactionEvent = settlementABI.Events["Interaction"]
	transferEvent    = erc20ABI.Events["Transfer"]
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
