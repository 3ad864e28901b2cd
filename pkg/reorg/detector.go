package reorg

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/pkg/indexer"
)

// Detector verifies stored checkpoint hashes against the canonical chain.
type Detector interface {
	// Check compares the checkpoint's recorded block hashes with the chain.
	// A hash mismatch, or a recorded block the chain no longer has, returns a
	// *ReorgDetectedError. Transient RPC failures return ordinary errors.
	Check(ctx context.Context, cp *indexer.Checkpoint) error

	// FindRollbackAnchor walks the stored checkpoint anchors below the given
	// block from newest to oldest and returns the first one whose hash is
	// still canonical, or nil when none survive.
	FindRollbackAnchor(
		ctx context.Context,
		dbx meddler.DB,
		contract common.Address,
		beforeBlock uint64,
	) (*indexer.Anchor, error)
}
