package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/russross/meddler"

	"github.com/estatechain/indexer/internal/decode"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
)

// KindDistributor is the registry kind of the revenue distributor handler.
const KindDistributor = "distributor"

func init() {
	indexer.Register(KindDistributor, NewDistributorHandler)
}

var distributorEvents = kindEvents{
	decode.DistributionCreatedSig: decode.DistributionCreatedTopic,
	decode.DistributionClaimedSig: decode.DistributionClaimedTopic,
}

// Compile-time check to ensure DistributorHandler implements indexer.Handler.
var _ indexer.Handler = (*DistributorHandler)(nil)

// Distribution is one revenue distribution and its claim progress.
type Distribution struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	DistributionID  *big.Int       `meddler:"distribution_id,bigint"`
	PropertyID      *big.Int       `meddler:"property_id,bigint"`
	TotalAmount     *big.Int       `meddler:"total_amount,bigint"`
	ClaimedAmount   *big.Int       `meddler:"claimed_amount,bigint"`
	CreatedBlock    uint64         `meddler:"created_block"`
	UpdatedBlock    uint64         `meddler:"updated_block"`
}

// DistributionClaim accumulates what one account has claimed from one
// distribution.
type DistributionClaim struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	DistributionID  *big.Int       `meddler:"distribution_id,bigint"`
	Account         common.Address `meddler:"account,address"`
	Amount          *big.Int       `meddler:"amount,bigint"`
	LastBlock       uint64         `meddler:"last_block"`
}

// DistributorHandler indexes a revenue distributor contract, tracking
// distributions and the claims made against them.
type DistributorHandler struct {
	baseHandler
}

// NewDistributorHandler creates a distributor handler from its config.
func NewDistributorHandler(cfg config.ContractConfig, log *logger.Logger) (indexer.Handler, error) {
	base, err := newBaseHandler(KindDistributor, distributorEvents, cfg, log)
	if err != nil {
		return nil, err
	}

	return &DistributorHandler{baseHandler: base}, nil
}

// HandleLog ingests a single distributor log inside the cycle transaction.
func (h *DistributorHandler) HandleLog(ctx context.Context, tx *sql.Tx, lg *types.Log) (*indexer.IngestResult, error) {
	return h.ingestLog(tx, lg, h.apply)
}

// ReplayEvent re-applies a journaled distributor event.
func (h *DistributorHandler) ReplayEvent(ctx context.Context, tx *sql.Tx, event *indexer.RawEvent) error {
	return h.replay(tx, event, h.apply)
}

// ResetDerived clears the distributions and claims of this contract.
func (h *DistributorHandler) ResetDerived(ctx context.Context, tx *sql.Tx) error {
	return h.clearTables(tx, "distributions", "distribution_claims")
}

func (h *DistributorHandler) apply(tx *sql.Tx, ev decode.Event, at eventContext) error {
	switch e := ev.(type) {
	case decode.DistributionCreated:
		return h.createDistribution(tx, e, at)
	case decode.DistributionClaimed:
		return h.recordClaim(tx, e, at)
	default:
		return fmt.Errorf("unexpected %s event on distributor contract %s", ev.Name(), h.name)
	}
}

func (h *DistributorHandler) createDistribution(tx *sql.Tx, ev decode.DistributionCreated, at eventContext) error {
	dist := &Distribution{
		ContractAddress: h.address,
		DistributionID:  ev.DistributionID,
		PropertyID:      ev.PropertyID,
		TotalAmount:     ev.Amount,
		ClaimedAmount:   new(big.Int),
		CreatedBlock:    at.BlockNumber,
		UpdatedBlock:    at.BlockNumber,
	}
	if err := meddler.Insert(tx, "distributions", dist); err != nil {
		return fmt.Errorf("failed to insert distribution %s: %w", ev.DistributionID.String(), err)
	}

	return nil
}

func (h *DistributorHandler) recordClaim(tx *sql.Tx, ev decode.DistributionClaimed, at eventContext) error {
	dist, err := GetDistribution(tx, h.address, ev.DistributionID)
	if err != nil {
		return err
	}
	if dist == nil {
		h.log.Warnf("claim for unknown distribution, skipping: contract=%s distribution=%s block=%d",
			h.name, ev.DistributionID.String(), at.BlockNumber)
		return nil
	}

	claim, err := GetDistributionClaim(tx, h.address, ev.DistributionID, ev.Account)
	if err != nil {
		return err
	}
	if claim == nil {
		claim = &DistributionClaim{
			ContractAddress: h.address,
			DistributionID:  ev.DistributionID,
			Account:         ev.Account,
			Amount:          new(big.Int),
		}
	}

	claim.Amount = new(big.Int).Add(claim.Amount, ev.Amount)
	claim.LastBlock = at.BlockNumber

	if claim.ID == 0 {
		if err := meddler.Insert(tx, "distribution_claims", claim); err != nil {
			return fmt.Errorf("failed to insert distribution claim: %w", err)
		}
	} else {
		if err := meddler.Update(tx, "distribution_claims", claim); err != nil {
			return fmt.Errorf("failed to update distribution claim: %w", err)
		}
	}

	dist.ClaimedAmount = new(big.Int).Add(dist.ClaimedAmount, ev.Amount)
	dist.UpdatedBlock = at.BlockNumber
	if dist.ClaimedAmount.Cmp(dist.TotalAmount) > 0 {
		h.log.Warnf("distribution claims exceed its total: contract=%s distribution=%s claimed=%s total=%s",
			h.name, ev.DistributionID.String(), dist.ClaimedAmount.String(), dist.TotalAmount.String())
	}

	if err := meddler.Update(tx, "distributions", dist); err != nil {
		return fmt.Errorf("failed to update distribution %s: %w", ev.DistributionID.String(), err)
	}

	return nil
}

// GetDistribution returns one distribution by its on-chain id, or nil when
// unknown.
func GetDistribution(dbx meddler.DB, contract common.Address, distributionID *big.Int) (*Distribution, error) {
	var dist Distribution
	err := meddler.QueryRow(dbx, &dist,
		"SELECT * FROM distributions WHERE contract_address = ? AND distribution_id = ?",
		contract.Hex(), distributionID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query distribution %s: %w", distributionID.String(), err)
	}

	return &dist, nil
}

// GetDistributionClaim returns what an account has claimed from a
// distribution, or nil when it has not claimed yet.
func GetDistributionClaim(
	dbx meddler.DB,
	contract common.Address,
	distributionID *big.Int,
	account common.Address,
) (*DistributionClaim, error) {
	var claim DistributionClaim
	err := meddler.QueryRow(dbx, &claim,
		"SELECT * FROM distribution_claims WHERE contract_address = ? AND distribution_id = ? AND account = ?",
		contract.Hex(), distributionID.String(), account.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query distribution claim: %w", err)
	}

	return &claim, nil
}

// ListDistributions returns a distributor's distributions newest first.
func ListDistributions(dbx meddler.DB, contract common.Address) ([]*Distribution, error) {
	var dists []*Distribution
	err := meddler.QueryAll(dbx, &dists,
		"SELECT * FROM distributions WHERE contract_address = ? ORDER BY created_block DESC",
		contract.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query distributions: %w", err)
	}

	return dists, nil
}

// ListDistributionClaims returns the claims against one distribution.
func ListDistributionClaims(dbx meddler.DB, contract common.Address, distributionID *big.Int) ([]*DistributionClaim, error) {
	var claims []*DistributionClaim
	err := meddler.QueryAll(dbx, &claims,
		`SELECT * FROM distribution_claims WHERE contract_address = ? AND distribution_id = ?
		ORDER BY account ASC`,
		contract.Hex(), distributionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution claims: %w", err)
	}

	return claims, nil
}
