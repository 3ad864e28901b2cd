package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/pkg/indexer"
)

// GetCheckpoint retrieves the checkpoint row for a contract.
// Returns nil without an error when the contract has no checkpoint yet.
func GetCheckpoint(dbx meddler.DB, contract common.Address) (*indexer.Checkpoint, error) {
	var cp indexer.Checkpoint
	err := meddler.QueryRow(dbx, &cp, "SELECT * FROM checkpoints WHERE contract_address = ?", contract.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query checkpoint for %s: %w", contract.Hex(), err)
	}

	return &cp, nil
}

// ListCheckpoints returns the checkpoints of all tracked contracts.
func ListCheckpoints(dbx meddler.DB) ([]*indexer.Checkpoint, error) {
	var cps []*indexer.Checkpoint
	err := meddler.QueryAll(dbx, &cps, "SELECT * FROM checkpoints ORDER BY contract_address ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}

	return cps, nil
}

// SaveCheckpoint inserts or updates a checkpoint row and stamps UpdatedAt.
// The anchor must never sit above the processed tip; such a checkpoint is
// rejected before touching the database.
func SaveCheckpoint(dbx meddler.DB, cp *indexer.Checkpoint) error {
	if cp.LastCheckpointBlock > cp.LastProcessedBlock {
		return fmt.Errorf("invalid checkpoint for %s: checkpoint block %d is above processed block %d",
			cp.ContractAddress.Hex(), cp.LastCheckpointBlock, cp.LastProcessedBlock)
	}

	cp.UpdatedAt = time.Now().Unix()

	if cp.ID == 0 {
		if err := meddler.Insert(dbx, "checkpoints", cp); err != nil {
			return fmt.Errorf("failed to insert checkpoint for %s: %w", cp.ContractAddress.Hex(), err)
		}
		return nil
	}

	if err := meddler.Update(dbx, "checkpoints", cp); err != nil {
		return fmt.Errorf("failed to update checkpoint for %s: %w", cp.ContractAddress.Hex(), err)
	}

	return nil
}
