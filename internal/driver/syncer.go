package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/metrics"
	irpc "github.com/estatechain/indexer/internal/rpc"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
	"github.com/estatechain/indexer/pkg/reorg"
	"github.com/estatechain/indexer/pkg/rpc"
)

const (
	// cycleBackoffInitial is the delay after the first failed cycle.
	cycleBackoffInitial = time.Second

	// cycleBackoffMax caps the delay between retries of a failing cycle.
	cycleBackoffMax = time.Minute
)

// syncer reconciles a single contract with the chain.
type syncer struct {
	handler     indexer.Handler
	cfg         *config.SyncConfig
	db          *sql.DB
	rpc         rpc.EthClient
	detector    reorg.Detector
	maintenance db.Maintenance
	log         *logger.Logger
}

// run is the contract's sync loop. Completed cycles that advanced the
// checkpoint are followed immediately by another cycle until the loop is
// caught up with the chain, then it polls. Failed cycles are retried with
// exponential backoff; only context cancellation ends the loop.
func (s *syncer) run(ctx context.Context) error {
	name := s.handler.Name()
	s.log.Infof("contract sync loop started: contract=%s address=%s start_block=%d",
		name, s.handler.Address(), s.handler.StartBlock())

	failures := 0
	for {
		advanced, err := s.runCycle(ctx)
		if ctx.Err() != nil {
			s.log.Infof("contract sync loop stopped: contract=%s", name)
			return nil
		}

		if err != nil {
			failures++
			metrics.CycleErrorInc(name)
			s.log.Errorf("sync cycle failed: contract=%s consecutive_failures=%d err=%v", name, failures, err)
			if !s.sleep(ctx, cycleBackoff(failures)) {
				return nil
			}
			continue
		}
		failures = 0

		if advanced {
			continue
		}

		if !s.sleep(ctx, s.cfg.PollInterval.Duration) {
			return nil
		}
	}
}

// runCycle performs one reconciliation step: verify the checkpoint against
// the chain, then fetch and apply the next batch of confirmed blocks. It
// reports whether the checkpoint advanced, so the caller knows to keep going
// before sleeping.
func (s *syncer) runCycle(ctx context.Context) (bool, error) {
	contract := s.handler.Address()

	cp, err := store.GetCheckpoint(s.db, contract)
	if err != nil {
		return false, err
	}
	if cp == nil {
		cp = &indexer.Checkpoint{ContractAddress: contract}
	}

	if err := s.detector.Check(ctx, cp); err != nil {
		reorgErr, ok := reorg.AsReorgError(err)
		if !ok {
			return false, fmt.Errorf("reorg check failed: %w", err)
		}
		if err := s.rollback(ctx, cp, reorgErr); err != nil {
			return false, fmt.Errorf("failed to roll back after reorg: %w", err)
		}
		return true, nil
	}

	head, ok, err := s.headBlock(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve chain head: %w", err)
	}

	// A checkpoint whose tip hash is nil marks a contract reset by a full
	// rollback, so syncing restarts from the contract's start block.
	fromBlock := s.handler.StartBlock()
	if cp.ID != 0 && cp.LastProcessedBlockHash != nil {
		fromBlock = max(fromBlock, cp.LastProcessedBlock+1)
	}

	if !ok || head < fromBlock {
		s.log.Debugf("caught up with chain: contract=%s next_block=%d confirmed_head=%d",
			s.handler.Name(), fromBlock, head)
		return false, nil
	}

	toBlock := min(head, fromBlock+s.cfg.MaxBatchSize-1)

	logs, actualTo, err := s.fetchLogs(ctx, fromBlock, toBlock)
	if err != nil {
		return false, fmt.Errorf("failed to fetch logs: %w", err)
	}

	res, err := s.applyRange(ctx, fromBlock, actualTo, logs)
	if err != nil {
		return false, err
	}

	if err := s.saveProgress(cp, res); err != nil {
		return false, err
	}
	s.recordRangeMetrics(res)

	if len(res.anchors) > 0 {
		if _, err := store.PruneAnchors(s.db, contract, s.cfg.AnchorRetention); err != nil {
			s.log.Warnf("failed to prune anchors: contract=%s err=%v", s.handler.Name(), err)
		}
	}

	s.log.Infof("batch processed: contract=%s from_block=%d to_block=%d logs=%d journaled=%d duplicates=%d dead_lettered=%d",
		s.handler.Name(), res.fromBlock, res.toBlock, res.logCount, res.journaled, res.duplicates, res.deadLettered)

	return true, nil
}

// headBlock resolves the newest processable block: the head selected by the
// configured finality mode minus the confirmation depth. ok is false while
// the chain is still shorter than the confirmation window.
func (s *syncer) headBlock(ctx context.Context) (uint64, bool, error) {
	var (
		header *types.Header
		err    error
	)

	switch s.cfg.Finality {
	case config.FinalityFinalized:
		header, err = s.rpc.GetFinalizedBlockHeader(ctx)
	case config.FinalitySafe:
		header, err = s.rpc.GetSafeBlockHeader(ctx)
	default:
		header, err = s.rpc.GetLatestBlockHeader(ctx)
	}
	if err != nil {
		return 0, false, err
	}

	head := header.Number.Uint64()
	if head < s.cfg.ConfirmationDepth {
		return 0, false, nil
	}

	return head - s.cfg.ConfirmationDepth, true, nil
}

// fetchLogs queries the contract's logs for a block range. When the provider
// rejects the range as too large, the range is narrowed (to the provider's
// suggestion when it gives one, otherwise by halving) and retried. Returns
// the range end that was actually fetched.
func (s *syncer) fetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, uint64, error) {
	for {
		logs, err := s.rpc.GetLogs(ctx, s.filterQuery(fromBlock, toBlock))
		if err == nil {
			return logs, toBlock, nil
		}

		tooMany, ok := irpc.AsTooManyResults(err)
		if !ok {
			return nil, 0, err
		}
		if toBlock == fromBlock {
			return nil, 0, fmt.Errorf("provider rejects single block %d: %w", fromBlock, err)
		}

		newTo := fromBlock + (toBlock-fromBlock)/2
		if tooMany.HasSuggestion && tooMany.SuggestedTo >= fromBlock && tooMany.SuggestedTo < toBlock {
			newTo = tooMany.SuggestedTo
		}

		s.log.Infof("provider rejected log range, narrowing: contract=%s from_block=%d to_block=%d new_to_block=%d",
			s.handler.Name(), fromBlock, toBlock, newTo)
		toBlock = newTo
	}
}

func (s *syncer) filterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{s.handler.Address()},
		Topics:    [][]common.Hash{s.handler.Topics()},
	}
}

// rangeResult describes one applied block range.
type rangeResult struct {
	fromBlock uint64
	toBlock   uint64

	// tipHash is the chain hash of toBlock at the time the range was applied.
	tipHash common.Hash

	// anchors are the hash anchors recorded inside the range, oldest first.
	anchors []*indexer.Anchor

	logCount     int
	journaled    int
	duplicates   int
	deadLettered int
	elapsed      time.Duration
}

// applyRange ingests a fetched range in a single transaction: every log goes
// through the handler in chain order, and a hash anchor is recorded at each
// checkpoint interval boundary the range crosses. The checkpoint itself is
// saved by the caller after the transaction commits.
func (s *syncer) applyRange(ctx context.Context, fromBlock, toBlock uint64, logs []types.Log) (*rangeResult, error) {
	started := time.Now()
	contract := s.handler.Address()

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	headers, err := s.rangeHeaders(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback batch transaction: %v", err)
		}
	}()

	res := &rangeResult{fromBlock: fromBlock, toBlock: toBlock, logCount: len(logs)}
	for i := range logs {
		ir, err := s.handler.HandleLog(ctx, tx, &logs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to handle log %s/%d: %w", logs[i].TxHash.Hex(), logs[i].Index, err)
		}
		switch {
		case ir.DeadLettered:
			res.deadLettered++
		case ir.Duplicate:
			res.duplicates++
		case ir.Journaled:
			res.journaled++
		}
	}

	for _, h := range headers {
		blockNum := h.Number.Uint64()
		if blockNum%s.cfg.CheckpointInterval != 0 {
			continue
		}
		anchor := &indexer.Anchor{
			ContractAddress: contract,
			BlockNumber:     blockNum,
			BlockHash:       h.Hash(),
		}
		if err := store.RecordAnchor(tx, anchor); err != nil {
			return nil, err
		}
		res.anchors = append(res.anchors, anchor)
	}
	res.tipHash = headers[len(headers)-1].Hash()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	res.elapsed = time.Since(started)

	return res, nil
}

// rangeHeaders fetches the headers the range needs for hash bookkeeping: one
// per checkpoint interval boundary inside [fromBlock, toBlock], plus the
// range end. The range end is always the last element.
func (s *syncer) rangeHeaders(ctx context.Context, fromBlock, toBlock uint64) ([]*types.Header, error) {
	interval := s.cfg.CheckpointInterval
	blockNums := make([]uint64, 0, (toBlock-fromBlock)/interval+2)

	for blockNum := (fromBlock + interval - 1) / interval * interval; blockNum <= toBlock; blockNum += interval {
		blockNums = append(blockNums, blockNum)
	}
	if len(blockNums) == 0 || blockNums[len(blockNums)-1] != toBlock {
		blockNums = append(blockNums, toBlock)
	}

	headers, err := s.rpc.BatchGetBlockHeaders(ctx, blockNums)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch range headers: %w", err)
	}
	for i, h := range headers {
		if h == nil {
			return nil, fmt.Errorf("header for block %d missing from node response", blockNums[i])
		}
	}

	return headers, nil
}

// saveProgress advances the checkpoint to cover an applied range. The tip
// only moves forward, so historical re-scans leave it untouched. The anchor
// pair follows the newest anchor recorded below or at the new tip.
func (s *syncer) saveProgress(cp *indexer.Checkpoint, res *rangeResult) error {
	changed := false

	if cp.ID == 0 || cp.LastProcessedBlockHash == nil || res.toBlock > cp.LastProcessedBlock {
		tip := res.tipHash
		cp.LastProcessedBlock = res.toBlock
		cp.LastProcessedBlockHash = &tip
		changed = true
	}

	if n := len(res.anchors); n > 0 {
		newest := res.anchors[n-1]
		if newest.BlockNumber > cp.LastCheckpointBlock && newest.BlockNumber <= cp.LastProcessedBlock {
			hash := newest.BlockHash
			cp.LastCheckpointBlock = newest.BlockNumber
			cp.LastCheckpointBlockHash = &hash
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := store.SaveCheckpoint(s.db, cp); err != nil {
		return err
	}

	name := s.handler.Name()
	metrics.LastProcessedBlockSet(name, cp.LastProcessedBlock)
	metrics.LastCheckpointBlockSet(name, cp.LastCheckpointBlock)

	return nil
}

func (s *syncer) recordRangeMetrics(res *rangeResult) {
	name := s.handler.Name()
	metrics.BlocksProcessedAdd(name, res.toBlock-res.fromBlock+1)
	metrics.LogsFetchedAdd(name, res.logCount)
	metrics.EventsJournaledAdd(name, res.journaled)
	metrics.EventsDuplicateAdd(name, res.duplicates)
	metrics.EventsDeadLetteredAdd(name, res.deadLettered)
	metrics.BatchProcessingTimeLog(name, res.elapsed)
}

// backfillWindowsPerCall is how many block windows a backfill groups into a
// single batched eth_getLogs call.
const backfillWindowsPerCall = 4

type blockWindow struct {
	from uint64
	to   uint64
}

// backfill re-scans [fromBlock, toBlock], clamped to the contract's start
// block. Windows of MaxBatchSize blocks are fetched in batched log calls and
// applied through the normal ingestion path, so existing journal rows are
// recognized as duplicates.
func (s *syncer) backfill(ctx context.Context, fromBlock, toBlock uint64) error {
	name := s.handler.Name()

	from := max(fromBlock, s.handler.StartBlock())
	if toBlock < from {
		s.log.Infof("backfill range ends below contract start block, nothing to do: contract=%s start_block=%d",
			name, s.handler.StartBlock())
		return nil
	}

	cp, err := store.GetCheckpoint(s.db, s.handler.Address())
	if err != nil {
		return err
	}
	if cp == nil {
		cp = &indexer.Checkpoint{ContractAddress: s.handler.Address()}
	}

	s.log.Infof("backfill started: contract=%s from_block=%d to_block=%d", name, from, toBlock)

	for from <= toBlock {
		windows := s.backfillWindows(from, toBlock)

		queries := make([]ethereum.FilterQuery, len(windows))
		for i, w := range windows {
			queries[i] = s.filterQuery(w.from, w.to)
		}

		batches, err := s.rpc.BatchGetLogs(ctx, queries)
		if err != nil {
			if _, ok := irpc.AsTooManyResults(err); ok {
				next, err := s.backfillNarrow(ctx, cp, windows[0])
				if err != nil {
					return err
				}
				from = next
				continue
			}
			return fmt.Errorf("failed to fetch backfill logs: %w", err)
		}

		for i, logs := range batches {
			res, err := s.applyRange(ctx, windows[i].from, windows[i].to, logs)
			if err != nil {
				return err
			}
			if err := s.saveProgress(cp, res); err != nil {
				return err
			}
			s.recordRangeMetrics(res)
			from = windows[i].to + 1
		}
	}

	s.log.Infof("backfill complete: contract=%s to_block=%d", name, toBlock)

	return nil
}

// backfillNarrow handles a window the provider rejected as too large by
// falling back to single-query fetching, which narrows the range until the
// provider accepts it. Returns the next block to continue from.
func (s *syncer) backfillNarrow(ctx context.Context, cp *indexer.Checkpoint, w blockWindow) (uint64, error) {
	logs, actualTo, err := s.fetchLogs(ctx, w.from, w.to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch backfill logs: %w", err)
	}

	res, err := s.applyRange(ctx, w.from, actualTo, logs)
	if err != nil {
		return 0, err
	}
	if err := s.saveProgress(cp, res); err != nil {
		return 0, err
	}
	s.recordRangeMetrics(res)

	return actualTo + 1, nil
}

func (s *syncer) backfillWindows(from, toBlock uint64) []blockWindow {
	windows := make([]blockWindow, 0, backfillWindowsPerCall)
	for len(windows) < backfillWindowsPerCall && from <= toBlock {
		to := min(from+s.cfg.MaxBatchSize-1, toBlock)
		windows = append(windows, blockWindow{from: from, to: to})
		from = to + 1
	}

	return windows
}

// sleep waits for the duration or until the context is cancelled. Returns
// false on cancellation.
func (s *syncer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func cycleBackoff(failures int) time.Duration {
	backoff := cycleBackoffInitial
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= cycleBackoffMax {
			return cycleBackoffMax
		}
	}

	return backoff
}
