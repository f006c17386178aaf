package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const gatewayABIJSON = `[
  {"type":"function","name":"createOrder","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_token","type":"address"},
     {"name":"_amount","type":"uint256"},
     {"name":"_rate","type":"uint96"},
     {"name":"_senderFeeRecipient","type":"address"},
     {"name":"_senderFee","type":"uint256"},
     {"name":"_refundAddress","type":"address"},
     {"name":"messageHash","type":"string"}],
   "outputs":[{"name":"orderId","type":"bytes32"}]},
  {"type":"event","name":"OrderCreated","anonymous":false,
   "inputs":[
     {"name":"sender","type":"address","indexed":true},
     {"name":"token","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":true},
     {"name":"protocolFee","type":"uint256","indexed":false},
     {"name":"orderId","type":"bytes32","indexed":false},
     {"name":"rate","type":"uint256","indexed":false},
     {"name":"messageHash","type":"string","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	gatewayABI = mustParseABI(gatewayABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
