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

// KindMarketplace is the registry kind of the share marketplace handler.
const KindMarketplace = "marketplace"

func init() {
	indexer.Register(KindMarketplace, NewMarketplaceHandler)
}

var marketplaceEvents = kindEvents{
	decode.ListingCreatedSig:   decode.ListingCreatedTopic,
	decode.ListingFilledSig:    decode.ListingFilledTopic,
	decode.ListingCancelledSig: decode.ListingCancelledTopic,
}

// Listing lifecycle states.
const (
	ListingStatusActive    = "active"
	ListingStatusFilled    = "filled"
	ListingStatusCancelled = "cancelled"
)

// Compile-time check to ensure MarketplaceHandler implements indexer.Handler.
var _ indexer.Handler = (*MarketplaceHandler)(nil)

// Listing is the current state of one marketplace listing.
type Listing struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	ListingID       *big.Int       `meddler:"listing_id,bigint"`
	PropertyID      *big.Int       `meddler:"property_id,bigint"`
	Seller          common.Address `meddler:"seller,address"`
	Amount          *big.Int       `meddler:"amount,bigint"`
	Remaining       *big.Int       `meddler:"remaining,bigint"`
	PricePerShare   *big.Int       `meddler:"price_per_share,bigint"`
	Status          string         `meddler:"status"`
	CreatedBlock    uint64         `meddler:"created_block"`
	UpdatedBlock    uint64         `meddler:"updated_block"`
}

// MarketplaceHandler indexes a share marketplace contract and keeps the
// listing lifecycle derived from its events.
type MarketplaceHandler struct {
	baseHandler
}

// NewMarketplaceHandler creates a marketplace handler from its config.
func NewMarketplaceHandler(cfg config.ContractConfig, log *logger.Logger) (indexer.Handler, error) {
	base, err := newBaseHandler(KindMarketplace, marketplaceEvents, cfg, log)
	if err != nil {
		return nil, err
	}

	return &MarketplaceHandler{baseHandler: base}, nil
}

// HandleLog ingests a single marketplace log inside the cycle transaction.
func (h *MarketplaceHandler) HandleLog(ctx context.Context, tx *sql.Tx, lg *types.Log) (*indexer.IngestResult, error) {
	return h.ingestLog(tx, lg, h.apply)
}

// ReplayEvent re-applies a journaled marketplace event.
func (h *MarketplaceHandler) ReplayEvent(ctx context.Context, tx *sql.Tx, event *indexer.RawEvent) error {
	return h.replay(tx, event, h.apply)
}

// ResetDerived clears the listings of this contract.
func (h *MarketplaceHandler) ResetDerived(ctx context.Context, tx *sql.Tx) error {
	return h.clearTables(tx, "listings")
}

func (h *MarketplaceHandler) apply(tx *sql.Tx, ev decode.Event, at eventContext) error {
	switch e := ev.(type) {
	case decode.ListingCreated:
		return h.createListing(tx, e, at)
	case decode.ListingFilled:
		return h.fillListing(tx, e, at)
	case decode.ListingCancelled:
		return h.cancelListing(tx, e, at)
	default:
		return fmt.Errorf("unexpected %s event on marketplace contract %s", ev.Name(), h.name)
	}
}

func (h *MarketplaceHandler) createListing(tx *sql.Tx, ev decode.ListingCreated, at eventContext) error {
	listing := &Listing{
		ContractAddress: h.address,
		ListingID:       ev.ListingID,
		PropertyID:      ev.PropertyID,
		Seller:          ev.Seller,
		Amount:          ev.Amount,
		Remaining:       ev.Amount,
		PricePerShare:   ev.PricePerShare,
		Status:          ListingStatusActive,
		CreatedBlock:    at.BlockNumber,
		UpdatedBlock:    at.BlockNumber,
	}
	if err := meddler.Insert(tx, "listings", listing); err != nil {
		return fmt.Errorf("failed to insert listing %s: %w", ev.ListingID.String(), err)
	}

	return nil
}

func (h *MarketplaceHandler) fillListing(tx *sql.Tx, ev decode.ListingFilled, at eventContext) error {
	listing, err := GetListing(tx, h.address, ev.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		h.log.Warnf("fill for unknown listing, skipping: contract=%s listing=%s block=%d",
			h.name, ev.ListingID.String(), at.BlockNumber)
		return nil
	}

	listing.Remaining = ev.Remaining
	if ev.Remaining.Sign() == 0 {
		listing.Status = ListingStatusFilled
	}
	listing.UpdatedBlock = at.BlockNumber

	if err := meddler.Update(tx, "listings", listing); err != nil {
		return fmt.Errorf("failed to update listing %s: %w", ev.ListingID.String(), err)
	}

	return nil
}

func (h *MarketplaceHandler) cancelListing(tx *sql.Tx, ev decode.ListingCancelled, at eventContext) error {
	listing, err := GetListing(tx, h.address, ev.ListingID)
	if err != nil {
		return err
	}
	if listing == nil {
		h.log.Warnf("cancel for unknown listing, skipping: contract=%s listing=%s block=%d",
			h.name, ev.ListingID.String(), at.BlockNumber)
		return nil
	}

	listing.Status = ListingStatusCancelled
	listing.UpdatedBlock = at.BlockNumber

	if err := meddler.Update(tx, "listings", listing); err != nil {
		return fmt.Errorf("failed to update listing %s: %w", ev.ListingID.String(), err)
	}

	return nil
}

// GetListing returns one listing by its on-chain id, or nil when unknown.
func GetListing(dbx meddler.DB, contract common.Address, listingID *big.Int) (*Listing, error) {
	var listing Listing
	err := meddler.QueryRow(dbx, &listing,
		"SELECT * FROM listings WHERE contract_address = ? AND listing_id = ?",
		contract.Hex(), listingID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query listing %s: %w", listingID.String(), err)
	}

	return &listing, nil
}

// ListListings returns a marketplace's listings newest first. An empty status
// lists all of them.
func ListListings(dbx meddler.DB, contract common.Address, status string) ([]*Listing, error) {
	var (
		listings []*Listing
		err      error
	)

	if status == "" {
		err = meddler.QueryAll(dbx, &listings,
			"SELECT * FROM listings WHERE contract_address = ? ORDER BY created_block DESC",
			contract.Hex())
	} else {
		err = meddler.QueryAll(dbx, &listings,
			"SELECT * FROM listings WHERE contract_address = ? AND status = ? ORDER BY created_block DESC",
			contract.Hex(), status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}

	return listings, nil
}
