package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient is the chain access surface the sync driver needs. Implementations
// must be safe for concurrent use.
type EthClient interface {
	// Close closes the underlying RPC connection.
	Close()

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// GetBlockHeader retrieves the header for a specific block number. A block
	// unknown to the node yields an error satisfying
	// errors.Is(err, ethereum.NotFound).
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)

	// GetLatestBlockHeader retrieves the latest block header.
	GetLatestBlockHeader(ctx context.Context) (*types.Header, error)

	// GetFinalizedBlockHeader retrieves the finalized block header.
	GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error)

	// GetSafeBlockHeader retrieves the safe block header.
	GetSafeBlockHeader(ctx context.Context) (*types.Header, error)

	// BatchGetLogs retrieves logs for multiple filter queries in one batch call.
	BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error)

	// BatchGetBlockHeaders retrieves headers for multiple block numbers in one
	// batch call. A nil entry means the block was not found.
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
}
