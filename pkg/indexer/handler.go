package indexer

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handler defines the interface contract handlers must implement.
// A handler owns one on-chain contract: it decodes the contract's logs,
// journals them and maintains the derived tables for its kind.
type Handler interface {
	// Name returns the configured instance name, e.g. "maple-house-shares".
	Name() string

	// Kind returns the handler kind the instance was created from.
	Kind() string

	// Address returns the contract address this handler indexes.
	Address() common.Address

	// StartBlock returns the block number from which this handler wants logs.
	// The sync driver never requests logs below it.
	StartBlock() uint64

	// Topics returns the event signature hashes the handler subscribes to.
	// The sync driver uses them as the topic filter of its log queries.
	Topics() []common.Hash

	// HandleLog ingests a single log inside the cycle transaction. Malformed
	// logs are dead-lettered and reported via the returned count, they do not
	// fail the transaction.
	HandleLog(ctx context.Context, tx *sql.Tx, log *types.Log) (*IngestResult, error)

	// ReplayEvent re-applies a journaled event to the derived tables.
	// Replaying the full journal in order must yield the same derived state
	// as the original ingestion.
	ReplayEvent(ctx context.Context, tx *sql.Tx, event *RawEvent) error

	// ResetDerived clears every derived table owned by this handler.
	ResetDerived(ctx context.Context, tx *sql.Tx) error
}

// IngestResult reports what HandleLog did with one log.
type IngestResult struct {
	// Journaled is true when the log was recorded as a new journal row.
	Journaled bool

	// Duplicate is true when the journal already held the log.
	Duplicate bool

	// DeadLettered is true when the log failed to decode and was
	// recorded as a decode failure instead.
	DeadLettered bool
}
