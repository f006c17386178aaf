package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrReverted     = errors.New("transaction reverted")
	ErrNoSigner     = errors.New("signer key is not configured")
	ErrUnknownToken = errors.New("token is not configured for network")
)

// OrderRequest is the argument list of the gateway createOrder call.
type OrderRequest struct {
	Token              common.Address
	Amount             *big.Int
	Rate               *big.Int
	SenderFeeRecipient common.Address
	SenderFee          *big.Int
	RefundAddress      common.Address
	MessageHash        string
}

// OrderFilter narrows OrderCreated logs to one submission.
type OrderFilter struct {
	Sender    common.Address
	Token     common.Address
	Amount    *big.Int
	FromBlock uint64
}

// OrderCreated is a decoded gateway OrderCreated log.
type OrderCreated struct {
	Sender      common.Address
	Token       common.Address
	Amount      *big.Int
	ProtocolFee *big.Int
	OrderID     string
	Rate        *big.Int
	MessageHash string
	TxHash      string
	BlockNumber uint64
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}

// Client is the chain collaborator the submitter drives. Send methods return
// once the transaction is broadcast; WaitReceipt blocks until it is mined.
type Client interface {
	Sender() common.Address
	Approve(ctx context.Context, token common.Address, amount *big.Int) (string, error)
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	WaitReceipt(ctx context.Context, txHash string) (*Receipt, error)
	FindOrderCreated(ctx context.Context, filter OrderFilter) (*OrderCreated, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}
