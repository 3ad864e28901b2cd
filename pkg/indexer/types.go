package indexer

import (
	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint tracks the sync progress of a single contract. One row exists
// per contract address.
type Checkpoint struct {
	ID                      int64          `meddler:"id,pk"`
	ContractAddress         common.Address `meddler:"contract_address,address"`
	LastProcessedBlock      uint64         `meddler:"last_processed_block"`
	LastProcessedBlockHash  *common.Hash   `meddler:"last_processed_block_hash,hash"`
	LastCheckpointBlock     uint64         `meddler:"last_checkpoint_block"`
	LastCheckpointBlockHash *common.Hash   `meddler:"last_checkpoint_block_hash,hash"`
	UpdatedAt               int64          `meddler:"updated_at"`
}

// Anchor stores the hash of a previously processed block. Anchors are what a
// reorg rollback walks to find the newest block still on the canonical chain.
type Anchor struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	BlockNumber     uint64         `meddler:"block_number"`
	BlockHash       common.Hash    `meddler:"block_hash,hash"`
	CreatedAt       int64          `meddler:"created_at"`
}

// RawEvent is one journaled log. The journal is append-only during sync and
// is the source every derived table can be rebuilt from.
type RawEvent struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	EventName       string         `meddler:"event_name"`
	BlockNumber     uint64         `meddler:"block_number"`
	BlockHash       common.Hash    `meddler:"block_hash,hash"`
	TxHash          common.Hash    `meddler:"tx_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`
	Payload         string         `meddler:"payload"`
	CreatedAt       int64          `meddler:"created_at"`
}

// DecodeFailure is a dead-lettered log that matched a subscribed topic but
// could not be decoded. The raw topics and data are kept for inspection.
type DecodeFailure struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	BlockNumber     uint64         `meddler:"block_number"`
	BlockHash       common.Hash    `meddler:"block_hash,hash"`
	TxHash          common.Hash    `meddler:"tx_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`
	Topics          string         `meddler:"topics"`
	Data            string         `meddler:"data"`
	Reason          string         `meddler:"reason"`
	CreatedAt       int64          `meddler:"created_at"`
}
