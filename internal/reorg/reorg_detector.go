package reorg

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	internalcommon "github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/metrics"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/indexer"
	"github.com/estatechain/indexer/pkg/reorg"
	pkgrpc "github.com/estatechain/indexer/pkg/rpc"
)

var _ reorg.Detector = (*Detector)(nil)

// Detector verifies per-contract checkpoint hashes against the canonical
// chain. It holds no state of its own; checkpoint anchors recorded by the
// sync driver are its walk-back history.
type Detector struct {
	rpc pkgrpc.EthClient
	log *logger.Logger
}

// NewDetector creates a new Detector.
func NewDetector(rpcClient pkgrpc.EthClient, log *logger.Logger) *Detector {
	metrics.ComponentHealthSet(internalcommon.ComponentReorg, true)

	return &Detector{
		rpc: rpcClient,
		log: log.WithComponent(internalcommon.ComponentReorg),
	}
}

// Check compares the stored checkpoint hashes against the chain. The anchor
// hash at lastCheckpointBlock is verified first, then the processed tip. A
// zero-valued checkpoint carries no hashes and has nothing to verify.
func (d *Detector) Check(ctx context.Context, cp *indexer.Checkpoint) error {
	if cp == nil {
		return nil
	}

	if cp.LastCheckpointBlockHash != nil {
		if err := d.verifyBlock(ctx, cp, cp.LastCheckpointBlock, *cp.LastCheckpointBlockHash); err != nil {
			return err
		}
	}

	// The tip only needs its own verification when it sits above the anchor.
	tipAboveAnchor := cp.LastCheckpointBlockHash == nil || cp.LastProcessedBlock != cp.LastCheckpointBlock
	if cp.LastProcessedBlockHash != nil && tipAboveAnchor {
		if err := d.verifyBlock(ctx, cp, cp.LastProcessedBlock, *cp.LastProcessedBlockHash); err != nil {
			return err
		}
	}

	return nil
}

func (d *Detector) verifyBlock(
	ctx context.Context,
	cp *indexer.Checkpoint,
	blockNum uint64,
	storedHash common.Hash,
) error {
	header, err := d.rpc.GetBlockHeader(ctx, blockNum)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// The chain no longer reaches this height.
			d.log.Warnf("reorg detected: contract=%s block=%d is gone from the chain, stored_hash=%s",
				cp.ContractAddress.Hex(), blockNum, storedHash.Hex())
			ReorgDetected(depthFrom(cp, blockNum))

			return reorg.NewReorgError(blockNum,
				fmt.Sprintf("block not found on chain, stored_hash=%s", storedHash.Hex()))
		}

		return fmt.Errorf("failed to fetch header for block %d: %w", blockNum, err)
	}

	if chainHash := header.Hash(); chainHash != storedHash {
		d.log.Warnf("reorg detected: contract=%s block=%d stored_hash=%s chain_hash=%s",
			cp.ContractAddress.Hex(), blockNum, storedHash.Hex(), chainHash.Hex())
		ReorgDetected(depthFrom(cp, blockNum))

		return reorg.NewReorgError(blockNum,
			fmt.Sprintf("stored_hash=%s chain_hash=%s", storedHash.Hex(), chainHash.Hex()))
	}

	return nil
}

// FindRollbackAnchor returns the newest stored anchor below beforeBlock whose
// hash is still canonical. Anchors the reorg invalidated are skipped with a
// warning; nil means nothing survives and the contract resyncs from its start
// block.
func (d *Detector) FindRollbackAnchor(
	ctx context.Context,
	dbx meddler.DB,
	contract common.Address,
	beforeBlock uint64,
) (*indexer.Anchor, error) {
	anchors, err := store.ListAnchors(dbx, contract)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint anchors: %w", err)
	}

	for _, anchor := range anchors {
		if anchor.BlockNumber >= beforeBlock {
			continue
		}

		header, err := d.rpc.GetBlockHeader(ctx, anchor.BlockNumber)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				d.log.Warnf("checkpoint anchor beyond current chain head: contract=%s block=%d",
					contract.Hex(), anchor.BlockNumber)
				continue
			}

			return nil, fmt.Errorf("failed to fetch header for anchor block %d: %w", anchor.BlockNumber, err)
		}

		if header.Hash() == anchor.BlockHash {
			d.log.Infof("rollback anchor found: contract=%s block=%d hash=%s",
				contract.Hex(), anchor.BlockNumber, anchor.BlockHash.Hex())
			return anchor, nil
		}

		d.log.Warnf("checkpoint anchor no longer canonical: contract=%s block=%d stored_hash=%s chain_hash=%s",
			contract.Hex(), anchor.BlockNumber, anchor.BlockHash.Hex(), header.Hash().Hex())
	}

	return nil, nil
}

// depthFrom estimates how many processed blocks a reorg at firstReorgBlock
// invalidates.
func depthFrom(cp *indexer.Checkpoint, firstReorgBlock uint64) uint64 {
	if cp.LastProcessedBlock < firstReorgBlock {
		return 1
	}
	return cp.LastProcessedBlock - firstReorgBlock + 1
}
