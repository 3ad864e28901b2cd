package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
	pkgrpc "github.com/estatechain/indexer/pkg/rpc"
)

var _ pkgrpc.EthClient = (*Client)(nil)

// headerBatchSize bounds a single eth_getBlockByNumber batch call.
const headerBatchSize = 100

// Client talks to an EVM JSON-RPC endpoint. Every call carries a per-attempt
// timeout and is retried with exponential backoff for transient failures.
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	retry   *config.RetryConfig
	timeout time.Duration
	log     *logger.Logger
}

// NewClient dials the configured endpoint.
func NewClient(ctx context.Context, cfg config.RPCConfig, log *logger.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		retry:   cfg.Retry,
		timeout: cfg.Timeout.Duration,
		log:     log.WithComponent(common.ComponentRPC),
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call instruments a single RPC method and retries it on transient failures.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return retryWithBackoff(ctx, c.retry, method, func() error {
		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		RPCMethodInc(method)
		start := time.Now()

		err := fn(attemptCtx)

		RPCMethodDuration(method, time.Since(start))
		if err != nil {
			RPCMethodError(method, errorType(err))
		}

		return err
	})
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log

	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})

	return logs, err
}

// GetBlockHeader retrieves the header for a specific block number.
func (c *Client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return c.headerByNumber(ctx, new(big.Int).SetUint64(blockNum))
}

// GetLatestBlockHeader retrieves the latest block header.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, nil)
}

// GetFinalizedBlockHeader retrieves the finalized block header.
func (c *Client) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
}

// GetSafeBlockHeader retrieves the safe block header.
func (c *Client) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.headerByNumber(ctx, big.NewInt(int64(rpc.SafeBlockNumber)))
}

func (c *Client) headerByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header

	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})

	return header, err
}

// BatchGetLogs retrieves logs for multiple filter queries in one batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	batch := make([]rpc.BatchElem, len(queries))
	results := make([][]types.Log, len(queries))

	for i, query := range queries {
		batch[i] = rpc.BatchElem{
			Method: "eth_getLogs",
			Args:   []any{toFilterArg(query)},
			Result: &results[i],
		}
	}

	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return err
		}

		for _, elem := range batch {
			if elem.Error != nil {
				return elem.Error
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers, chunking
// the batch calls so a single request stays within provider limits. A nil
// entry in the result means the block was not found.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	allResults := make([]*types.Header, 0, len(blockNums))

	for i := 0; i < len(blockNums); i += headerBatchSize {
		end := min(i+headerBatchSize, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]rpc.BatchElem, len(chunk))
		results := make([]*types.Header, len(chunk))

		for j, blockNum := range chunk {
			batch[j] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{toBlockNumArg(blockNum), false},
				Result: &results[j],
			}
		}

		err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}

			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}

			return nil
		})
		if err != nil {
			return nil, err
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// toFilterArg converts ethereum.FilterQuery to the wire format of eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
