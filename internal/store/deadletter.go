package store

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/pkg/indexer"
)

// InsertDecodeFailure dead-letters a log that failed to decode and stamps
// CreatedAt. Returns false without an error when the failure is already
// recorded.
func InsertDecodeFailure(dbx meddler.DB, failure *indexer.DecodeFailure) (bool, error) {
	failure.CreatedAt = time.Now().Unix()

	if err := meddler.Insert(dbx, "decode_failures", failure); err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert decode failure %s/%d: %w",
			failure.TxHash.Hex(), failure.LogIndex, err)
	}

	return true, nil
}

// ListDecodeFailures returns dead-lettered logs newest first. A nil contract
// lists failures across all contracts.
func ListDecodeFailures(dbx meddler.DB, contract *common.Address, limit, offset int) ([]*indexer.DecodeFailure, error) {
	var (
		failures []*indexer.DecodeFailure
		err      error
	)

	if contract == nil {
		err = meddler.QueryAll(dbx, &failures,
			"SELECT * FROM decode_failures ORDER BY block_number DESC, log_index DESC LIMIT ? OFFSET ?",
			limit, offset)
	} else {
		err = meddler.QueryAll(dbx, &failures,
			`SELECT * FROM decode_failures WHERE contract_address = ?
			ORDER BY block_number DESC, log_index DESC LIMIT ? OFFSET ?`,
			contract.Hex(), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query decode failures: %w", err)
	}

	return failures, nil
}

// CountDecodeFailures returns the number of dead-lettered logs. A nil
// contract counts failures across all contracts.
func CountDecodeFailures(dbx meddler.DB, contract *common.Address) (int64, error) {
	var (
		count int64
		err   error
	)

	if contract == nil {
		err = dbx.QueryRow("SELECT COUNT(*) FROM decode_failures").Scan(&count)
	} else {
		err = dbx.QueryRow(
			"SELECT COUNT(*) FROM decode_failures WHERE contract_address = ?",
			contract.Hex()).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count decode failures: %w", err)
	}

	return count, nil
}

// DeleteDecodeFailuresFrom removes all dead-lettered logs at or above the
// given block.
func DeleteDecodeFailuresFrom(dbx meddler.DB, contract common.Address, fromBlock uint64) (int64, error) {
	result, err := dbx.Exec(
		"DELETE FROM decode_failures WHERE contract_address = ? AND block_number >= ?",
		contract.Hex(), fromBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to delete decode failures from block %d: %w", fromBlock, err)
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}
