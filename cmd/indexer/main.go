package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalcommon "github.com/estatechain/indexer/internal/common"
	internalconfig "github.com/estatechain/indexer/internal/config"
	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/driver"

	// Register the built-in contract handlers.
	_ "github.com/estatechain/indexer/internal/handler"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/metrics"
	"github.com/estatechain/indexer/internal/migrations"
	"github.com/estatechain/indexer/internal/reorg"
	"github.com/estatechain/indexer/internal/rpc"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/api"
	pkgconfig "github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║       EstateChain Indexer v%s          ║
║   Property Share Event Sync for EVM       ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath       string
	backfillContract string
	backfillFrom     uint64
	backfillTo       uint64
	replayContract   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "EstateChain Indexer - property share event sync for EVM chains",
	Long: `EstateChain Indexer mirrors property share token, marketplace and revenue
distribution events from an EVM chain into a local SQLite database. It
journals confirmed logs, maintains derived ownership and listing state, and
survives chain reorganizations by rolling back to verified block anchors.`,
	Version: version,
	RunE:    runSync,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-scan a historical block range into the journal",
	Long: `Re-scan a block range and ingest any logs missing from the journal.
Already journaled logs are skipped, so re-scanning an indexed range is safe.
The checkpoint only ever moves forward; scanning below the current tip never
rewinds it.`,
	RunE: runBackfill,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild derived state from the journal",
	Long: `Drop all derived rows of a contract and replay its journaled events in
chain order. Use this after a handler change to rebuild holdings, listings
and distribution state without touching the chain.`,
	RunE: runReplay,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync progress per configured contract",
	RunE:  runStatus,
}

var statusJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available contract handler kinds",
	Long:  `List all registered contract handler kinds that can be used in the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available contract kinds:")
		kinds := indexer.RegisteredKinds()
		if len(kinds) == 0 {
			fmt.Println("  (no handlers registered)")
			return
		}
		for _, k := range kinds {
			fmt.Printf("  - %s\n", k)
		}
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	Long:  `Print the JSON schema of the configuration file format, for editor validation and CI checks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := internalconfig.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	backfillCmd.Flags().StringVar(&backfillContract, "contract", "", "contract name to backfill (default: all contracts)")
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "first block of the range")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "last block of the range")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")

	replayCmd.Flags().StringVar(&replayContract, "contract", "", "contract name to replay (default: all contracts)")

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")

	rootCmd.AddCommand(backfillCmd, replayCmd, statusCmd, listCmd, schemaCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	log := st.log

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, logger.NewComponentLoggerFromConfig(internalcommon.ComponentMetrics, cfg.Logging))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	if err := st.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := st.maintenance.Stop(); err != nil {
			log.Warnf("failed to stop database maintenance: %v", err)
		}
	}()

	apiServer := api.NewServer(cfg, st.database, logger.NewComponentLoggerFromConfig(internalcommon.ComponentAPI, cfg.Logging))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Start(gctx)
	})
	g.Go(func() error {
		return st.driver.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("indexer stopped")

	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.driver.Backfill(ctx, backfillContract, backfillFrom, backfillTo); err != nil {
		return err
	}

	st.log.Infof("backfill finished: from_block=%d to_block=%d", backfillFrom, backfillTo)

	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.driver.RebuildDerived(ctx, replayContract); err != nil {
		return err
	}

	st.log.Info("derived state rebuilt from journal")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := migrations.RunMigrations(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	checkpoints, err := store.ListCheckpoints(database)
	if err != nil {
		return fmt.Errorf("failed to read checkpoints: %w", err)
	}

	byAddress := make(map[common.Address]*indexer.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byAddress[cp.ContractAddress] = cp
	}

	rows := make([]statusRow, 0, len(cfg.Contracts))
	for _, contract := range cfg.Contracts {
		addr := common.HexToAddress(contract.Address)

		events, err := store.CountRawEvents(database, addr)
		if err != nil {
			return fmt.Errorf("failed to count events for %s: %w", contract.Name, err)
		}

		failures, err := store.CountDecodeFailures(database, &addr)
		if err != nil {
			return fmt.Errorf("failed to count decode failures for %s: %w", contract.Name, err)
		}

		row := statusRow{
			Name:            contract.Name,
			Kind:            contract.Kind,
			ContractAddress: addr.Hex(),
			JournaledEvents: events,
			DecodeFailures:  failures,
		}
		if cp := byAddress[addr]; cp != nil {
			row.LastProcessedBlock = cp.LastProcessedBlock
			row.LastCheckpointBlock = cp.LastCheckpointBlock
			updated := time.Unix(cp.UpdatedAt, 0).UTC()
			row.UpdatedAt = &updated
		}

		rows = append(rows, row)
	}

	if statusJSON {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tKIND\tADDRESS\tPROCESSED\tANCHOR\tEVENTS\tFAILURES\tUPDATED")

	for _, row := range rows {
		processed, anchor, updated := "-", "-", "never"
		if row.UpdatedAt != nil {
			processed = strconv.FormatUint(row.LastProcessedBlock, 10)
			anchor = strconv.FormatUint(row.LastCheckpointBlock, 10)
			updated = row.UpdatedAt.Format(time.RFC3339)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			row.Name, row.Kind, row.ContractAddress, processed, anchor,
			row.JournaledEvents, row.DecodeFailures, updated)
	}

	return w.Flush()
}

// statusRow is one line of the status command output.
type statusRow struct {
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	ContractAddress     string     `json:"contract_address"`
	LastProcessedBlock  uint64     `json:"last_processed_block"`
	LastCheckpointBlock uint64     `json:"last_checkpoint_block"`
	JournaledEvents     int64      `json:"journaled_events"`
	DecodeFailures      int64      `json:"decode_failures"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// stack bundles the wired sync components shared by the run, backfill and
// replay commands.
type stack struct {
	rpcClient   *rpc.Client
	database    *sql.DB
	maintenance db.Maintenance
	driver      *driver.Driver
	log         *logger.Logger
}

// buildStack wires the full sync pipeline from configuration: RPC client,
// migrated database, maintenance coordinator, contract handlers, reorg
// detector and the driver on top. Close releases the RPC connection and the
// database.
func buildStack(ctx context.Context, cfg *pkgconfig.Config) (*stack, error) {
	log := logger.NewComponentLoggerFromConfig(internalcommon.ComponentDriver, cfg.Logging)

	log.Infof("connecting to RPC endpoint: %s", cfg.RPC.URL)
	rpcClient, err := rpc.NewClient(ctx, cfg.RPC, logger.NewComponentLoggerFromConfig(internalcommon.ComponentRPC, cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	log.Info("running database migrations")
	if err := migrations.RunMigrations(cfg.Database.Path); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maintenance := db.NewMaintenance(
		cfg.Database.Path,
		database,
		cfg.Database.Maintenance,
		logger.NewComponentLoggerFromConfig(internalcommon.ComponentDB, cfg.Logging),
	)

	handlers := make([]indexer.Handler, 0, len(cfg.Contracts))
	for _, contract := range cfg.Contracts {
		log.Infof("creating contract handler: name=%s kind=%s address=%s",
			contract.Name, contract.Kind, contract.Address)

		h, err := indexer.Create(contract, logger.NewComponentLoggerFromConfig(internalcommon.ComponentHandler, cfg.Logging))
		if err != nil {
			rpcClient.Close()
			database.Close()
			return nil, fmt.Errorf("failed to create handler for %s: %w", contract.Name, err)
		}

		handlers = append(handlers, h)
	}

	detector := reorg.NewDetector(rpcClient, logger.NewComponentLoggerFromConfig(internalcommon.ComponentReorg, cfg.Logging))

	d, err := driver.New(cfg, database, rpcClient, detector, maintenance, handlers, log)
	if err != nil {
		rpcClient.Close()
		database.Close()
		return nil, fmt.Errorf("failed to create sync driver: %w", err)
	}

	return &stack{
		rpcClient:   rpcClient,
		database:    database,
		maintenance: maintenance,
		driver:      d,
		log:         log,
	}, nil
}

func (s *stack) Close() {
	s.rpcClient.Close()

	if err := s.database.Close(); err != nil {
		s.log.Warnf("failed to close database: %v", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down gracefully...")
		cancel()
	}()

	return ctx, cancel
}
