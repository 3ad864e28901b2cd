package api

import (
	"encoding/json"
	"time"
)

// ContractStatus is the sync progress of one configured contract.
type ContractStatus struct {
	Name                    string `json:"name"`
	Kind                    string `json:"kind"`
	ContractAddress         string `json:"contract_address"`
	StartBlock              uint64 `json:"start_block"`
	LastProcessedBlock      uint64 `json:"last_processed_block"`
	LastProcessedBlockHash  string `json:"last_processed_block_hash,omitempty"`
	LastCheckpointBlock     uint64 `json:"last_checkpoint_block"`
	LastCheckpointBlockHash string `json:"last_checkpoint_block_hash,omitempty"`

	// JournaledEvents counts rows in the raw event journal, EventCounts
	// breaks them down by event name.
	JournaledEvents int64            `json:"journaled_events"`
	EventCounts     map[string]int64 `json:"event_counts,omitempty"`
	DecodeFailures  int64            `json:"decode_failures"`

	// UpdatedAt is when the checkpoint last moved; nil when the contract has
	// not been synced yet.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Stale reports that no new confirmed data arrived within the configured
	// staleness threshold.
	Stale bool `json:"stale"`
}

// ContractHealth is the condensed per-contract entry of a health check.
type ContractHealth struct {
	Name               string `json:"name"`
	ContractAddress    string `json:"contract_address"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	Healthy            bool   `json:"healthy"`
}

// HealthResponse reports overall service health. Status is "ok" when every
// contract has a fresh checkpoint and "degraded" otherwise.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Contracts []ContractHealth `json:"contracts"`
}

// EventRecord is one journaled event as stored in the raw event log.
type EventRecord struct {
	ContractAddress string          `json:"contract_address"`
	EventName       string          `json:"event_name"`
	BlockNumber     uint64          `json:"block_number"`
	BlockHash       string          `json:"block_hash"`
	TxHash          string          `json:"tx_hash"`
	LogIndex        uint            `json:"log_index"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventsResponse lists journaled events in chain order. Clients page forward
// by passing the block number and log index of the last event as the
// after_block/after_log_index cursor of the next request.
type EventsResponse struct {
	Events  []EventRecord `json:"events"`
	HasMore bool          `json:"has_more"`
}

// FailureRecord is one dead-lettered log kept for manual inspection.
type FailureRecord struct {
	ContractAddress string    `json:"contract_address"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	TxHash          string    `json:"tx_hash"`
	LogIndex        uint      `json:"log_index"`
	Topics          string    `json:"topics"`
	Data            string    `json:"data"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

// FailuresResponse lists dead-lettered logs with pagination info.
type FailuresResponse struct {
	Failures   []FailureRecord  `json:"failures"`
	Pagination PaginationResult `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
