package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// rpcBackend is the read surface used from an RPC endpoint.
type rpcBackend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// MultiRPCClient spreads reads across several endpoints. A call falls
// through to the next endpoint on error; the preferred endpoint moves on
// once it has failed failThreshold times in a row.
type MultiRPCClient struct {
	clients       []rpcBackend
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func DialMultiRPC(ctx context.Context, endpoints []string, failThreshold int) (*MultiRPCClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	clients := make([]rpcBackend, 0, len(list))
	for _, ep := range list {
		c, err := ethclient.DialContext(ctx, ep)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return newMultiRPC(clients, failThreshold), nil
}

func newMultiRPC(clients []rpcBackend, failThreshold int) *MultiRPCClient {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &MultiRPCClient{clients: clients, failThreshold: failThreshold}
}

func (m *MultiRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return failover(ctx, m, func(c rpcBackend) ([]types.Log, error) {
		return c.FilterLogs(ctx, q)
	})
}

func (m *MultiRPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return failover(ctx, m, func(c rpcBackend) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

func (m *MultiRPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return failover(ctx, m, func(c rpcBackend) ([]byte, error) {
		return c.CallContract(ctx, msg, blockNumber)
	})
}

func (m *MultiRPCClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return failover(ctx, m, func(c rpcBackend) ([]byte, error) {
		return c.CodeAt(ctx, account, blockNumber)
	})
}

func failover[T any](ctx context.Context, m *MultiRPCClient, call func(rpcBackend) (T, error)) (T, error) {
	var zero T
	var lastErr error
	start := m.currentIndex()
	for i := 0; i < len(m.clients); i++ {
		idx := (start + i) % len(m.clients)
		out, err := call(m.clients[idx])
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		// NotFound is an answer, not an endpoint failure.
		if errors.Is(err, ethereum.NotFound) {
			m.resetFailures(idx)
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		m.noteFailure(idx)
	}
	return zero, lastErr
}

func (m *MultiRPCClient) currentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *MultiRPCClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiRPCClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.failCount++
	if m.failCount >= m.failThreshold {
		m.index = (m.index + 1) % len(m.clients)
		m.failCount = 0
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
