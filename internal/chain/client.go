package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"rafflemarkets/internal/config"
)

var (
	// ErrNotConfigured is returned when the RPC url or a required contract
	// address is missing; callers treat chain features as disabled.
	ErrNotConfigured = errors.New("chain: not configured")

	// ErrGasTooHigh means the current gas price exceeds the configured
	// ceiling. The creation path waits and retries instead of submitting.
	ErrGasTooHigh = errors.New("chain: gas price above ceiling")

	// ErrMarketExists is the "already exists" revert class. Creation treats
	// it as an idempotent success.
	ErrMarketExists = errors.New("chain: market already exists")

	// ErrUnauthorized is the access-control revert class. It is fatal and
	// never retried.
	ErrUnauthorized = errors.New("chain: caller lacks creator role")
)

// Client wraps a single ethclient connection shared by the watcher and the
// factory caller. The gas price is cached for a short interval with a 10%
// inclusion buffer so creation retries do not hammer the RPC node.
type Client struct {
	eth    *ethclient.Client
	cfg    config.ChainConfig
	logger *zap.Logger

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

func Dial(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, ErrNotConfigured
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth, cfg: cfg, logger: logger}, nil
}

func (c *Client) Close() {
	if c == nil || c.eth == nil {
		return
	}
	c.eth.Close()
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if c == nil || c.eth == nil {
		return 0, ErrNotConfigured
	}
	return c.eth.BlockNumber(ctx)
}

func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if c == nil || c.eth == nil {
		return nil, ErrNotConfigured
	}
	return c.eth.FilterLogs(ctx, query)
}

// GasPrice returns the suggested gas price with a 10% buffer, cached for
// cfg.GasCacheInterval. A stale cached value is preferred over an RPC error.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if c == nil || c.eth == nil {
		return nil, ErrNotConfigured
	}
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	interval := c.cfg.GasCacheInterval
	if interval <= 0 {
		interval = time.Minute
	}
	if cached != nil && time.Since(updatedAt) < interval {
		return cached, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

// CheckGasCeiling resolves the current gas price and compares it against the
// configured maximum. Returns the price when acceptable, ErrGasTooHigh when not.
func (c *Client) CheckGasCeiling(ctx context.Context) (*big.Int, error) {
	price, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if c.cfg.MaxGasPriceGwei > 0 {
		ceiling := new(big.Int).Mul(big.NewInt(c.cfg.MaxGasPriceGwei), big.NewInt(1_000_000_000))
		if price.Cmp(ceiling) > 0 {
			if c.logger != nil {
				c.logger.Warn("gas price above ceiling",
					zap.String("price_wei", price.String()),
					zap.Int64("ceiling_gwei", c.cfg.MaxGasPriceGwei),
				)
			}
			return nil, ErrGasTooHigh
		}
	}
	return price, nil
}

// WaitForReceipt polls for the transaction receipt every 3s until it is mined
// or ctx expires. Callers wrap ctx with the configured confirmation timeout.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c == nil || c.eth == nil {
		return nil, ErrNotConfigured
	}
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}
