package store

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/pkg/indexer"
)

// RecordAnchor persists a block anchor and stamps CreatedAt. Re-recording an
// anchor the contract already has is a no-op, so a crash between batch commit
// and checkpoint save stays safe to re-process.
func RecordAnchor(dbx meddler.DB, anchor *indexer.Anchor) error {
	anchor.CreatedAt = time.Now().Unix()

	if err := meddler.Insert(dbx, "checkpoint_anchors", anchor); err != nil {
		if db.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to insert anchor at block %d: %w", anchor.BlockNumber, err)
	}

	return nil
}

// ListAnchors returns a contract's anchors ordered newest block first.
func ListAnchors(dbx meddler.DB, contract common.Address) ([]*indexer.Anchor, error) {
	var anchors []*indexer.Anchor
	err := meddler.QueryAll(dbx, &anchors,
		"SELECT * FROM checkpoint_anchors WHERE contract_address = ? ORDER BY block_number DESC",
		contract.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query anchors for %s: %w", contract.Hex(), err)
	}

	return anchors, nil
}

// DeleteAnchorsFrom removes all anchors at or above the given block.
func DeleteAnchorsFrom(dbx meddler.DB, contract common.Address, fromBlock uint64) (int64, error) {
	result, err := dbx.Exec(
		"DELETE FROM checkpoint_anchors WHERE contract_address = ? AND block_number >= ?",
		contract.Hex(), fromBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to delete anchors from block %d: %w", fromBlock, err)
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}

// PruneAnchors keeps only the newest keep anchors of a contract.
func PruneAnchors(dbx meddler.DB, contract common.Address, keep int) (int64, error) {
	result, err := dbx.Exec(
		`DELETE FROM checkpoint_anchors WHERE contract_address = ? AND id NOT IN (
			SELECT id FROM checkpoint_anchors WHERE contract_address = ?
			ORDER BY block_number DESC LIMIT ?)`,
		contract.Hex(), contract.Hex(), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune anchors for %s: %w", contract.Hex(), err)
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}
