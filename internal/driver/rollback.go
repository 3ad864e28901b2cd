package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/estatechain/indexer/internal/metrics"
	ireorg "github.com/estatechain/indexer/internal/reorg"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/indexer"
	"github.com/estatechain/indexer/pkg/reorg"
)

// replayPageSize is how many journal rows a replay loads per page.
const replayPageSize = 500

// rollback recovers from a detected reorg. It walks the contract's recorded
// anchors below the first reorged block to find the newest one whose hash
// still matches the chain, then atomically discards every journal row,
// decode failure and anchor above it, rebuilds the derived tables from the
// surviving journal and rewinds the checkpoint to the anchor. Without a
// surviving anchor the contract is reset entirely and re-syncs from its
// start block.
func (s *syncer) rollback(ctx context.Context, cp *indexer.Checkpoint, reorgErr *reorg.ReorgDetectedError) error {
	name := s.handler.Name()
	contract := s.handler.Address()

	s.log.Warnf("rolling back after reorg: contract=%s first_reorg_block=%d details=%s",
		name, reorgErr.FirstReorgBlock, reorgErr.Details)

	anchor, err := s.detector.FindRollbackAnchor(ctx, s.db, contract, reorgErr.FirstReorgBlock)
	if err != nil {
		return fmt.Errorf("failed to find rollback anchor: %w", err)
	}

	var deleteFrom uint64
	if anchor != nil {
		deleteFrom = anchor.BlockNumber + 1
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback reorg transaction: %v", err)
		}
	}()

	removedEvents, err := store.DeleteRawEventsFrom(tx, contract, deleteFrom)
	if err != nil {
		return err
	}
	removedFailures, err := store.DeleteDecodeFailuresFrom(tx, contract, deleteFrom)
	if err != nil {
		return err
	}
	if _, err := store.DeleteAnchorsFrom(tx, contract, deleteFrom); err != nil {
		return err
	}

	if err := s.handler.ResetDerived(ctx, tx); err != nil {
		return fmt.Errorf("failed to reset derived tables: %w", err)
	}
	replayed, err := s.replayJournal(ctx, tx)
	if err != nil {
		return err
	}

	if anchor != nil {
		tip := anchor.BlockHash
		anchorHash := anchor.BlockHash
		cp.LastProcessedBlock = anchor.BlockNumber
		cp.LastProcessedBlockHash = &tip
		cp.LastCheckpointBlock = anchor.BlockNumber
		cp.LastCheckpointBlockHash = &anchorHash
	} else {
		cp.LastProcessedBlock = 0
		cp.LastProcessedBlockHash = nil
		cp.LastCheckpointBlock = 0
		cp.LastCheckpointBlockHash = nil
	}
	if err := store.SaveCheckpoint(tx, cp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	ireorg.RollbackCompleted()
	metrics.LastProcessedBlockSet(name, cp.LastProcessedBlock)
	metrics.LastCheckpointBlockSet(name, cp.LastCheckpointBlock)

	s.log.Warnf("rollback complete: contract=%s resumed_block=%d removed_events=%d removed_failures=%d replayed_events=%d",
		name, cp.LastProcessedBlock, removedEvents, removedFailures, replayed)

	return nil
}

// replayJournal re-applies the contract's surviving journal rows to the
// derived tables in chain order, paging with a keyset cursor so the result
// set stays bounded.
func (s *syncer) replayJournal(ctx context.Context, tx *sql.Tx) (int, error) {
	var cursor *store.ReplayCursor
	total := 0

	for {
		events, err := store.ListRawEvents(tx, s.handler.Address(), cursor, replayPageSize)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}

		for _, ev := range events {
			if err := s.handler.ReplayEvent(ctx, tx, ev); err != nil {
				return total, fmt.Errorf("failed to replay event %s/%d: %w", ev.TxHash.Hex(), ev.LogIndex, err)
			}
			total++
		}

		last := events[len(events)-1]
		cursor = &store.ReplayCursor{BlockNumber: last.BlockNumber, LogIndex: last.LogIndex}
	}
}

// rebuildDerived wipes and replays the derived tables from the journal in
// one transaction. The journal and the checkpoint stay untouched.
func (s *syncer) rebuildDerived(ctx context.Context) error {
	name := s.handler.Name()
	s.log.Infof("rebuilding derived state from journal: contract=%s", name)

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback rebuild transaction: %v", err)
		}
	}()

	if err := s.handler.ResetDerived(ctx, tx); err != nil {
		return fmt.Errorf("failed to reset derived tables: %w", err)
	}

	replayed, err := s.replayJournal(ctx, tx)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}

	s.log.Infof("derived state rebuilt: contract=%s replayed_events=%d", name, replayed)

	return nil
}
