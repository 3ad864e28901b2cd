package store

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/pkg/indexer"
)

// ReplayCursor marks the last journal row already applied, so listing can
// resume after it. Rows are ordered by (block number, log index).
type ReplayCursor struct {
	BlockNumber uint64
	LogIndex    uint
}

// InsertRawEvent appends a log to the event journal and stamps CreatedAt.
// Returns false without an error when the journal already holds the log.
func InsertRawEvent(dbx meddler.DB, ev *indexer.RawEvent) (bool, error) {
	ev.CreatedAt = time.Now().Unix()

	if err := meddler.Insert(dbx, "raw_events", ev); err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert raw event %s/%d: %w", ev.TxHash.Hex(), ev.LogIndex, err)
	}

	return true, nil
}

// ListRawEvents returns up to limit journal rows of a contract in chain
// order, starting after the cursor. A nil cursor starts from the beginning.
func ListRawEvents(dbx meddler.DB, contract common.Address, after *ReplayCursor, limit int) ([]*indexer.RawEvent, error) {
	var (
		events []*indexer.RawEvent
		err    error
	)

	if after == nil {
		err = meddler.QueryAll(dbx, &events,
			`SELECT * FROM raw_events WHERE contract_address = ?
			ORDER BY block_number ASC, log_index ASC LIMIT ?`,
			contract.Hex(), limit)
	} else {
		err = meddler.QueryAll(dbx, &events,
			`SELECT * FROM raw_events WHERE contract_address = ?
			AND (block_number > ? OR (block_number = ? AND log_index > ?))
			ORDER BY block_number ASC, log_index ASC LIMIT ?`,
			contract.Hex(), after.BlockNumber, after.BlockNumber, after.LogIndex, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query raw events for %s: %w", contract.Hex(), err)
	}

	return events, nil
}

// DeleteRawEventsFrom removes all journal rows at or above the given block.
func DeleteRawEventsFrom(dbx meddler.DB, contract common.Address, fromBlock uint64) (int64, error) {
	result, err := dbx.Exec(
		"DELETE FROM raw_events WHERE contract_address = ? AND block_number >= ?",
		contract.Hex(), fromBlock)
	if err != nil {
		return 0, fmt.Errorf("failed to delete raw events from block %d: %w", fromBlock, err)
	}

	deleted, _ := result.RowsAffected()

	return deleted, nil
}

// CountRawEvents returns the number of journal rows of a contract.
func CountRawEvents(dbx meddler.DB, contract common.Address) (int64, error) {
	var count int64
	err := dbx.QueryRow(
		"SELECT COUNT(*) FROM raw_events WHERE contract_address = ?",
		contract.Hex()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw events for %s: %w", contract.Hex(), err)
	}

	return count, nil
}

// EventCounts returns the journal row count of a contract broken down by
// event name.
func EventCounts(dbx meddler.DB, contract common.Address) (map[string]int64, error) {
	rows, err := dbx.Query(
		"SELECT event_name, COUNT(*) FROM raw_events WHERE contract_address = ? GROUP BY event_name",
		contract.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to count events for %s: %w", contract.Hex(), err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[name] = count
	}

	return counts, rows.Err()
}
