package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const DefaultReceiptInterval = 2 * time.Second

var errNotOrderCreated = errors.New("log is not an OrderCreated event")

type EVMConfig struct {
	ChainID         int64
	Gateway         common.Address
	SignerKey       string
	ReceiptInterval time.Duration
	FailThreshold   int
}

// EVMClient sends through the first RPC endpoint and reads through all of
// them with failover.
type EVMClient struct {
	write           *ethclient.Client
	read            *MultiRPCClient
	gateway         common.Address
	chainID         *big.Int
	key             *ecdsa.PrivateKey
	from            common.Address
	receiptInterval time.Duration
}

func DialEVM(ctx context.Context, endpoints []string, cfg EVMConfig) (*EVMClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	write, err := ethclient.DialContext(ctx, list[0])
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", list[0], err)
	}
	read, err := DialMultiRPC(ctx, list, cfg.FailThreshold)
	if err != nil {
		return nil, err
	}

	c := &EVMClient{
		write:           write,
		read:            read,
		gateway:         cfg.Gateway,
		chainID:         big.NewInt(cfg.ChainID),
		receiptInterval: cfg.ReceiptInterval,
	}
	if c.receiptInterval <= 0 {
		c.receiptInterval = DefaultReceiptInterval
	}
	if cfg.SignerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *EVMClient) Sender() common.Address {
	return c.from
}

func (c *EVMClient) Approve(ctx context.Context, token common.Address, amount *big.Int) (string, error) {
	return c.transact(ctx, token, erc20ABI, "approve", c.gateway, amount)
}

func (c *EVMClient) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	return c.transact(ctx, c.gateway, gatewayABI, "createOrder",
		req.Token,
		req.Amount,
		req.Rate,
		req.SenderFeeRecipient,
		req.SenderFee,
		req.RefundAddress,
		req.MessageHash,
	)
}

func (c *EVMClient) transact(ctx context.Context, addr common.Address, parsed abi.ABI, method string, args ...interface{}) (string, error) {
	if c.key == nil {
		return "", ErrNoSigner
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx
	contract := bind.NewBoundContract(addr, parsed, c.read, c.write, c.write)
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return tx.Hash().Hex(), nil
}

func (c *EVMClient) WaitReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.receiptInterval)
	defer ticker.Stop()
	for {
		r, err := c.read.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: r.BlockNumber.Uint64(),
				Success:     r.Status == types.ReceiptStatusSuccessful,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) FindOrderCreated(ctx context.Context, f OrderFilter) (*OrderCreated, error) {
	q := orderCreatedQuery(c.gateway, f)
	logs, err := c.read.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		ev, err := decodeOrderCreated(l)
		if err != nil {
			continue
		}
		return ev, nil
	}
	return nil, nil
}

func (c *EVMClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, erc20ABI, c.read, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("balanceOf returned no value")
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", out[0])
	}
	return bal, nil
}

func orderCreatedQuery(gateway common.Address, f OrderFilter) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{gateway},
		Topics: [][]common.Hash{
			{gatewayABI.Events["OrderCreated"].ID},
			{common.BytesToHash(f.Sender.Bytes())},
			{common.BytesToHash(f.Token.Bytes())},
		},
	}
	if f.Amount != nil {
		q.Topics = append(q.Topics, []common.Hash{common.BigToHash(f.Amount)})
	}
	if f.FromBlock > 0 {
		q.FromBlock = new(big.Int).SetUint64(f.FromBlock)
	}
	return q
}

func decodeOrderCreated(l types.Log) (*OrderCreated, error) {
	event := gatewayABI.Events["OrderCreated"]
	if len(l.Topics) < 4 || l.Topics[0] != event.ID {
		return nil, errNotOrderCreated
	}
	var data struct {
		ProtocolFee *big.Int
		OrderId     [32]byte
		Rate        *big.Int
		MessageHash string
	}
	if err := gatewayABI.UnpackIntoInterface(&data, "OrderCreated", l.Data); err != nil {
		return nil, err
	}
	return &OrderCreated{
		Sender:      common.BytesToAddress(l.Topics[1].Bytes()),
		Token:       common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:      l.Topics[3].Big(),
		ProtocolFee: data.ProtocolFee,
		OrderID:     hexutil.Encode(data.OrderId[:]),
		Rate:        data.Rate,
		MessageHash: data.MessageHash,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}, nil
}
