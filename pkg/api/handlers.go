package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
)

const (
	defaultFailureLimit = 100
	maxFailureLimit     = 1000
)

// Handler serves the status and dead-letter inspection endpoints. All data
// comes from the indexer database; no chain access happens here.
type Handler struct {
	cfg *config.Config
	api *config.APIConfig
	db  *sql.DB
	log *logger.Logger
}

// NewHandler creates a new API handler. A missing API section in the
// configuration falls back to defaults.
func NewHandler(cfg *config.Config, database *sql.DB, log *logger.Logger) *Handler {
	apiCfg := cfg.API
	if apiCfg == nil {
		apiCfg = &config.APIConfig{}
		apiCfg.ApplyDefaults()
	}

	return &Handler{
		cfg: cfg,
		api: apiCfg,
		db:  database,
		log: log,
	}
}

// Health returns the health of the service and of every configured contract.
// @Summary Health check
// @Description Check the health of the indexer and the freshness of every contract checkpoint
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service and per-contract health"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.checkpointsByAddress()
	if err != nil {
		h.log.Errorf("failed to load checkpoints: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load checkpoints")
		return
	}

	status := "ok"
	contracts := make([]ContractHealth, 0, len(h.cfg.Contracts))

	for _, contract := range h.cfg.Contracts {
		addr := common.HexToAddress(contract.Address)
		cp := checkpoints[addr]

		health := ContractHealth{
			Name:            contract.Name,
			ContractAddress: addr.Hex(),
			Healthy:         cp != nil && !h.stale(cp.UpdatedAt),
		}
		if cp != nil {
			health.LastProcessedBlock = cp.LastProcessedBlock
		}
		if !health.Healthy {
			status = "degraded"
		}

		contracts = append(contracts, health)
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Contracts: contracts,
	})
}

// GetStatus returns the sync progress of every configured contract.
// @Summary List contract sync status
// @Description Sync progress, journal counts and staleness for every configured contract
// @Tags Status
// @Produce json
// @Success 200 {array} ContractStatus "Per-contract sync status"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.checkpointsByAddress()
	if err != nil {
		h.log.Errorf("failed to load checkpoints: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load checkpoints")
		return
	}

	statuses := make([]ContractStatus, 0, len(h.cfg.Contracts))
	for _, contract := range h.cfg.Contracts {
		status, err := h.contractStatus(contract, checkpoints[common.HexToAddress(contract.Address)])
		if err != nil {
			h.log.Errorf("failed to build status for %s: %v", contract.Name, err)
			respondError(w, http.StatusInternalServerError, "failed to build contract status")
			return
		}
		statuses = append(statuses, status)
	}

	respondJSON(w, http.StatusOK, statuses)
}

// GetContractStatus returns the sync progress of a single contract.
// @Summary Get contract sync status
// @Description Sync progress, journal counts and staleness for one contract, looked up by address or configured name
// @Tags Status
// @Produce json
// @Param address path string true "Contract address or configured name"
// @Success 200 {object} ContractStatus "Contract sync status"
// @Failure 404 {object} ErrorResponse "Contract not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /status/{address} [get]
func (h *Handler) GetContractStatus(w http.ResponseWriter, r *http.Request) {
	nameOrAddress := r.PathValue("address")

	contract := h.cfg.FindContract(nameOrAddress)
	if contract == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown contract '%s'", nameOrAddress))
		return
	}

	cp, err := store.GetCheckpoint(h.db, common.HexToAddress(contract.Address))
	if err != nil {
		h.log.Errorf("failed to load checkpoint for %s: %v", contract.Name, err)
		respondError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}

	status, err := h.contractStatus(*contract, cp)
	if err != nil {
		h.log.Errorf("failed to build status for %s: %v", contract.Name, err)
		respondError(w, http.StatusInternalServerError, "failed to build contract status")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// GetFailures lists dead-lettered logs, newest first.
// @Summary List decode failures
// @Description Dead-lettered logs that matched a subscribed topic but could not be decoded, newest first
// @Tags Failures
// @Produce json
// @Param contract query string false "Contract address or configured name to filter by"
// @Param limit query int false "Maximum number of failures to return" default(100)
// @Param offset query int false "Number of failures to skip" default(0)
// @Success 200 {object} FailuresResponse "Dead-lettered logs with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Contract not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /failures [get]
func (h *Handler) GetFailures(w http.ResponseWriter, r *http.Request) {
	var filter *common.Address
	if nameOrAddress := r.URL.Query().Get("contract"); nameOrAddress != "" {
		contract := h.cfg.FindContract(nameOrAddress)
		if contract == nil {
			respondError(w, http.StatusNotFound, fmt.Sprintf("unknown contract '%s'", nameOrAddress))
			return
		}
		addr := common.HexToAddress(contract.Address)
		filter = &addr
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	failures, err := store.ListDecodeFailures(h.db, filter, limit, offset)
	if err != nil {
		h.log.Errorf("failed to list decode failures: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list decode failures")
		return
	}

	total, err := store.CountDecodeFailures(h.db, filter)
	if err != nil {
		h.log.Errorf("failed to count decode failures: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to count decode failures")
		return
	}

	records := make([]FailureRecord, 0, len(failures))
	for _, failure := range failures {
		records = append(records, failureRecord(failure))
	}

	respondJSON(w, http.StatusOK, FailuresResponse{
		Failures: records,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: int64(offset+len(records)) < total,
		},
	})
}

// GetContractEvents lists a contract's journaled events in chain order.
// @Summary Browse the event journal
// @Description Journaled events of one contract in (block, log index) order, paged with a keyset cursor
// @Tags Events
// @Produce json
// @Param address path string true "Contract address or configured name"
// @Param after_block query int false "Return events after this block number"
// @Param after_log_index query int false "Return events after this log index within after_block"
// @Param limit query int false "Maximum number of events to return" default(100)
// @Success 200 {object} EventsResponse "Journaled events in chain order"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Contract not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /contracts/{address}/events [get]
func (h *Handler) GetContractEvents(w http.ResponseWriter, r *http.Request) {
	nameOrAddress := r.PathValue("address")

	contract := h.cfg.FindContract(nameOrAddress)
	if contract == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown contract '%s'", nameOrAddress))
		return
	}

	cursor, limit, err := parseEventQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// One extra row decides has_more without a second query.
	events, err := store.ListRawEvents(h.db, common.HexToAddress(contract.Address), cursor, limit+1)
	if err != nil {
		h.log.Errorf("failed to list events for %s: %v", contract.Name, err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	records := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, eventRecord(ev))
	}

	respondJSON(w, http.StatusOK, EventsResponse{
		Events:  records,
		HasMore: hasMore,
	})
}

// checkpointsByAddress loads all checkpoint rows keyed by contract address.
func (h *Handler) checkpointsByAddress() (map[common.Address]*indexer.Checkpoint, error) {
	checkpoints, err := store.ListCheckpoints(h.db)
	if err != nil {
		return nil, err
	}

	byAddress := make(map[common.Address]*indexer.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byAddress[cp.ContractAddress] = cp
	}

	return byAddress, nil
}

// contractStatus assembles the status row of one contract. A nil checkpoint
// means the contract has not been synced yet and is reported stale.
func (h *Handler) contractStatus(contract config.ContractConfig, cp *indexer.Checkpoint) (ContractStatus, error) {
	addr := common.HexToAddress(contract.Address)

	journaled, err := store.CountRawEvents(h.db, addr)
	if err != nil {
		return ContractStatus{}, err
	}

	eventCounts, err := store.EventCounts(h.db, addr)
	if err != nil {
		return ContractStatus{}, err
	}
	if len(eventCounts) == 0 {
		eventCounts = nil
	}

	failures, err := store.CountDecodeFailures(h.db, &addr)
	if err != nil {
		return ContractStatus{}, err
	}

	status := ContractStatus{
		Name:            contract.Name,
		Kind:            contract.Kind,
		ContractAddress: addr.Hex(),
		StartBlock:      contract.StartBlock,
		JournaledEvents: journaled,
		EventCounts:     eventCounts,
		DecodeFailures:  failures,
		Stale:           true,
	}

	if cp != nil {
		status.LastProcessedBlock = cp.LastProcessedBlock
		if cp.LastProcessedBlockHash != nil {
			status.LastProcessedBlockHash = cp.LastProcessedBlockHash.Hex()
		}
		status.LastCheckpointBlock = cp.LastCheckpointBlock
		if cp.LastCheckpointBlockHash != nil {
			status.LastCheckpointBlockHash = cp.LastCheckpointBlockHash.Hex()
		}

		updated := time.Unix(cp.UpdatedAt, 0).UTC()
		status.UpdatedAt = &updated
		status.Stale = h.stale(cp.UpdatedAt)
	}

	return status, nil
}

// stale reports whether a checkpoint timestamp is older than the configured
// staleness threshold.
func (h *Handler) stale(updatedAt int64) bool {
	return time.Since(time.Unix(updatedAt, 0)) > h.api.StalenessThreshold.Duration
}

func failureRecord(failure *indexer.DecodeFailure) FailureRecord {
	return FailureRecord{
		ContractAddress: failure.ContractAddress.Hex(),
		BlockNumber:     failure.BlockNumber,
		BlockHash:       failure.BlockHash.Hex(),
		TxHash:          failure.TxHash.Hex(),
		LogIndex:        failure.LogIndex,
		Topics:          failure.Topics,
		Data:            failure.Data,
		Reason:          failure.Reason,
		CreatedAt:       time.Unix(failure.CreatedAt, 0).UTC(),
	}
}

func eventRecord(ev *indexer.RawEvent) EventRecord {
	return EventRecord{
		ContractAddress: ev.ContractAddress.Hex(),
		EventName:       ev.EventName,
		BlockNumber:     ev.BlockNumber,
		BlockHash:       ev.BlockHash.Hex(),
		TxHash:          ev.TxHash.Hex(),
		LogIndex:        ev.LogIndex,
		Payload:         json.RawMessage(ev.Payload),
		CreatedAt:       time.Unix(ev.CreatedAt, 0).UTC(),
	}
}

// parseEventQuery reads the keyset cursor and limit of an event listing. The
// cursor is nil when neither after_* parameter is present, so listing starts
// from the beginning of the journal.
func parseEventQuery(r *http.Request) (cursor *store.ReplayCursor, limit int, err error) {
	limit = defaultFailureLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxFailureLimit {
			return nil, 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxFailureLimit)
		}
	}

	afterBlockStr := r.URL.Query().Get("after_block")
	afterIndexStr := r.URL.Query().Get("after_log_index")
	if afterBlockStr == "" && afterIndexStr == "" {
		return nil, limit, nil
	}

	cursor = &store.ReplayCursor{}
	if afterBlockStr != "" {
		cursor.BlockNumber, err = strconv.ParseUint(afterBlockStr, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid after_block: must be a non-negative integer")
		}
	}
	if afterIndexStr != "" {
		index, err := strconv.ParseUint(afterIndexStr, 10, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid after_log_index: must be a non-negative integer")
		}
		cursor.LogIndex = uint(index)
	}

	return cursor, limit, nil
}

// parsePagination reads the limit and offset query parameters.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultFailureLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxFailureLimit {
			return 0, 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxFailureLimit)
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset: must be non-negative")
		}
	}

	return limit, offset, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode first so an encoding failure can still change the status code.
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	// Headers are already sent; a write error here can only be dropped.
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
