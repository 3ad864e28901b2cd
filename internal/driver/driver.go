package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	internalcommon "github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/metrics"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
	"github.com/estatechain/indexer/pkg/reorg"
	"github.com/estatechain/indexer/pkg/rpc"
)

// Driver runs one sync loop per configured contract. Each loop reconciles
// the contract's journal and derived tables with the chain: it verifies the
// stored checkpoint against current block hashes, fetches confirmed logs in
// batches, applies them in a single transaction and advances the checkpoint.
type Driver struct {
	cfg     *config.Config
	db      *sql.DB
	log     *logger.Logger
	syncers []*syncer
}

// New creates a sync driver for the given contract handlers. Every handler
// gets its own loop; they share the database, the RPC client and the reorg
// detector.
func New(
	cfg *config.Config,
	database *sql.DB,
	rpcClient rpc.EthClient,
	detector reorg.Detector,
	maintenance db.Maintenance,
	handlers []indexer.Handler,
	log *logger.Logger,
) (*Driver, error) {
	if len(handlers) == 0 {
		return nil, fmt.Errorf("no contract handlers configured")
	}

	d := &Driver{
		cfg:     cfg,
		db:      database,
		log:     log.WithComponent(internalcommon.ComponentDriver),
		syncers: make([]*syncer, 0, len(handlers)),
	}

	for _, h := range handlers {
		d.syncers = append(d.syncers, &syncer{
			handler:     h,
			cfg:         &cfg.Sync,
			db:          database,
			rpc:         rpcClient,
			detector:    detector,
			maintenance: maintenance,
			log:         d.log,
		})
	}

	metrics.ComponentHealthSet(internalcommon.ComponentDriver, true)

	return d, nil
}

// Run starts the sync loop of every contract and blocks until the context is
// cancelled. Loops recover from cycle failures with bounded backoff, so Run
// only returns once shutdown is requested.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Infof("starting sync driver: contracts=%d finality=%s confirmation_depth=%d",
		len(d.syncers), d.cfg.Sync.Finality, d.cfg.Sync.ConfirmationDepth)

	defer metrics.ComponentHealthSet(internalcommon.ComponentDriver, false)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range d.syncers {
		g.Go(func() error {
			return s.run(ctx)
		})
	}

	return g.Wait()
}

// Backfill re-scans a historical block range and ingests any logs missing
// from the journal. Already journaled logs are skipped, so re-scanning an
// indexed range is safe. The checkpoint only moves forward; scanning below
// the current tip never rewinds it. An empty contractName backfills every
// configured contract.
func (d *Driver) Backfill(ctx context.Context, contractName string, fromBlock, toBlock uint64) error {
	if toBlock < fromBlock {
		return fmt.Errorf("invalid backfill range: from_block %d is above to_block %d", fromBlock, toBlock)
	}

	syncers, err := d.matchSyncers(contractName)
	if err != nil {
		return err
	}

	for _, s := range syncers {
		if err := s.backfill(ctx, fromBlock, toBlock); err != nil {
			return fmt.Errorf("backfill failed for %s: %w", s.handler.Name(), err)
		}
	}

	return nil
}

// RebuildDerived drops all derived rows of a contract and replays its full
// journal in chain order. It never touches the chain, only the database.
// An empty contractName rebuilds every configured contract.
func (d *Driver) RebuildDerived(ctx context.Context, contractName string) error {
	syncers, err := d.matchSyncers(contractName)
	if err != nil {
		return err
	}

	for _, s := range syncers {
		if err := s.rebuildDerived(ctx); err != nil {
			return fmt.Errorf("rebuild failed for %s: %w", s.handler.Name(), err)
		}
	}

	return nil
}

func (d *Driver) matchSyncers(contractName string) ([]*syncer, error) {
	if contractName == "" {
		return d.syncers, nil
	}

	for _, s := range d.syncers {
		if strings.EqualFold(s.handler.Name(), contractName) {
			return []*syncer{s}, nil
		}
	}

	return nil, fmt.Errorf("unknown contract: %s", contractName)
}
