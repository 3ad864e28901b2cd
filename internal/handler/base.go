package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	internalcommon "github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/decode"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
)

var zeroAddress common.Address

// kindEvents maps the canonical event signatures a handler kind supports to
// their topic hashes.
type kindEvents map[string]common.Hash

// eventContext carries the chain coordinates of the event being applied.
type eventContext struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// applyFunc applies one decoded event to a handler's derived tables.
type applyFunc func(tx *sql.Tx, ev decode.Event, at eventContext) error

// baseHandler carries the pieces shared by every handler kind: config
// parsing, topic subscription, journaling and dead-lettering.
type baseHandler struct {
	name    string
	kind    string
	address common.Address
	start   uint64
	topics  []common.Hash
	log     *logger.Logger
}

func newBaseHandler(kind string, supported kindEvents, cfg config.ContractConfig, log *logger.Logger) (baseHandler, error) {
	if !common.IsHexAddress(cfg.Address) {
		return baseHandler{}, fmt.Errorf("contract %s: invalid address %q", cfg.Name, cfg.Address)
	}

	signatures := cfg.Events
	if len(signatures) == 0 {
		signatures = make([]string, 0, len(supported))
		for sig := range supported {
			signatures = append(signatures, sig)
		}
		sort.Strings(signatures)
	}

	topics := make([]common.Hash, 0, len(signatures))
	for _, sig := range signatures {
		topic, ok := supported[sig]
		if !ok {
			return baseHandler{}, fmt.Errorf("contract %s: event %q is not supported by kind %s", cfg.Name, sig, kind)
		}
		topics = append(topics, topic)
	}

	return baseHandler{
		name:    cfg.Name,
		kind:    kind,
		address: common.HexToAddress(cfg.Address),
		start:   cfg.StartBlock,
		topics:  topics,
		log:     log.WithComponent(internalcommon.ComponentHandler),
	}, nil
}

func (b *baseHandler) Name() string            { return b.name }
func (b *baseHandler) Kind() string            { return b.kind }
func (b *baseHandler) Address() common.Address { return b.address }
func (b *baseHandler) StartBlock() uint64      { return b.start }

func (b *baseHandler) Topics() []common.Hash {
	return append([]common.Hash(nil), b.topics...)
}

// ingestLog decodes a log, journals it and applies the derived mutation.
// Malformed and unknown-topic logs are dead-lettered, duplicates are
// skipped. Only the journaling path applies derived state.
func (b *baseHandler) ingestLog(tx *sql.Tx, lg *types.Log, apply applyFunc) (*indexer.IngestResult, error) {
	ev, err := decode.DecodeLog(lg)
	if err != nil {
		var decodeErr *decode.DecodeError
		if errors.As(err, &decodeErr) {
			return b.deadLetter(tx, lg, decodeErr.Error())
		}
		return nil, err
	}

	if unknown, ok := ev.(decode.Unknown); ok {
		reason := "log carries no topics"
		if unknown.Topic != (common.Hash{}) {
			reason = fmt.Sprintf("unknown event topic %s", unknown.Topic.Hex())
		}
		return b.deadLetter(tx, lg, reason)
	}

	payload, err := decode.MarshalPayload(ev)
	if err != nil {
		return nil, err
	}

	raw := &indexer.RawEvent{
		ContractAddress: b.address,
		EventName:       ev.Name(),
		BlockNumber:     lg.BlockNumber,
		BlockHash:       lg.BlockHash,
		TxHash:          lg.TxHash,
		LogIndex:        lg.Index,
		Payload:         payload,
	}

	inserted, err := store.InsertRawEvent(tx, raw)
	if err != nil {
		return nil, err
	}
	if !inserted {
		b.log.Debugf("skipping already journaled log: contract=%s tx=%s log_index=%d",
			b.name, lg.TxHash.Hex(), lg.Index)
		return &indexer.IngestResult{Duplicate: true}, nil
	}

	if err := apply(tx, ev, eventContext{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}); err != nil {
		return nil, err
	}

	return &indexer.IngestResult{Journaled: true}, nil
}

// deadLetter records a log that cannot be decoded so the sync can continue
// past it with the payload preserved for inspection.
func (b *baseHandler) deadLetter(tx *sql.Tx, lg *types.Log, reason string) (*indexer.IngestResult, error) {
	topics := make([]string, len(lg.Topics))
	for i, topic := range lg.Topics {
		topics[i] = topic.Hex()
	}

	failure := &indexer.DecodeFailure{
		ContractAddress: b.address,
		BlockNumber:     lg.BlockNumber,
		BlockHash:       lg.BlockHash,
		TxHash:          lg.TxHash,
		LogIndex:        lg.Index,
		Topics:          strings.Join(topics, ","),
		Data:            "0x" + common.Bytes2Hex(lg.Data),
		Reason:          reason,
	}

	inserted, err := store.InsertDecodeFailure(tx, failure)
	if err != nil {
		return nil, err
	}
	if inserted {
		b.log.Warnf("dead-lettered undecodable log: contract=%s block=%d tx=%s log_index=%d reason=%s data=%s",
			b.name, lg.BlockNumber, lg.TxHash.Hex(), lg.Index, reason, failure.Data)
	}

	return &indexer.IngestResult{DeadLettered: true}, nil
}

// replay re-applies a journaled event to the derived tables.
func (b *baseHandler) replay(tx *sql.Tx, raw *indexer.RawEvent, apply applyFunc) error {
	ev, err := decode.UnmarshalPayload(raw.EventName, raw.Payload)
	if err != nil {
		return fmt.Errorf("failed to replay journal row %d: %w", raw.ID, err)
	}

	return apply(tx, ev, eventContext{
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    raw.LogIndex,
	})
}

// clearTables deletes a contract's rows from the given derived tables.
func (b *baseHandler) clearTables(tx *sql.Tx, tables ...string) error {
	for _, table := range tables {
		//nolint:gosec // Table names come from the handler implementations, not user input
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE contract_address = ?", b.address.Hex()); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return nil
}
