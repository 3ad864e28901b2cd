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

// KindPropertyToken is the registry kind of the property share token handler.
const KindPropertyToken = "property_token"

func init() {
	indexer.Register(KindPropertyToken, NewPropertyTokenHandler)
}

var propertyTokenEvents = kindEvents{
	decode.TransferSig: decode.TransferTopic,
}

// Compile-time check to ensure PropertyTokenHandler implements indexer.Handler.
var _ indexer.Handler = (*PropertyTokenHandler)(nil)

// Position is the current share balance of one holder in one property.
type Position struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	PropertyID      *big.Int       `meddler:"property_id,bigint"`
	Holder          common.Address `meddler:"holder,address"`
	Balance         *big.Int       `meddler:"balance,bigint"`
	UpdatedBlock    uint64         `meddler:"updated_block"`
}

// ShareTransfer is one recorded share movement, including mints and burns.
type ShareTransfer struct {
	ID              int64          `meddler:"id,pk"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	PropertyID      *big.Int       `meddler:"property_id,bigint"`
	Sender          common.Address `meddler:"sender,address"`
	Recipient       common.Address `meddler:"recipient,address"`
	Amount          *big.Int       `meddler:"amount,bigint"`
	BlockNumber     uint64         `meddler:"block_number"`
	TxHash          common.Hash    `meddler:"tx_hash,hash"`
	LogIndex        uint           `meddler:"log_index"`
}

// PropertyTokenHandler indexes a property share token contract. It keeps the
// transfer history and the per-holder positions derived from it.
type PropertyTokenHandler struct {
	baseHandler
}

// NewPropertyTokenHandler creates a property token handler from its config.
func NewPropertyTokenHandler(cfg config.ContractConfig, log *logger.Logger) (indexer.Handler, error) {
	base, err := newBaseHandler(KindPropertyToken, propertyTokenEvents, cfg, log)
	if err != nil {
		return nil, err
	}

	return &PropertyTokenHandler{baseHandler: base}, nil
}

// HandleLog ingests a single property token log inside the cycle transaction.
func (h *PropertyTokenHandler) HandleLog(ctx context.Context, tx *sql.Tx, lg *types.Log) (*indexer.IngestResult, error) {
	return h.ingestLog(tx, lg, h.apply)
}

// ReplayEvent re-applies a journaled property token event.
func (h *PropertyTokenHandler) ReplayEvent(ctx context.Context, tx *sql.Tx, event *indexer.RawEvent) error {
	return h.replay(tx, event, h.apply)
}

// ResetDerived clears the positions and transfer history of this contract.
func (h *PropertyTokenHandler) ResetDerived(ctx context.Context, tx *sql.Tx) error {
	return h.clearTables(tx, "positions", "share_transfers")
}

func (h *PropertyTokenHandler) apply(tx *sql.Tx, ev decode.Event, at eventContext) error {
	transfer, ok := ev.(decode.Transfer)
	if !ok {
		return fmt.Errorf("unexpected %s event on property token contract %s", ev.Name(), h.name)
	}

	record := &ShareTransfer{
		ContractAddress: h.address,
		PropertyID:      transfer.PropertyID,
		Sender:          transfer.From,
		Recipient:       transfer.To,
		Amount:          transfer.Amount,
		BlockNumber:     at.BlockNumber,
		TxHash:          at.TxHash,
		LogIndex:        at.LogIndex,
	}
	if err := meddler.Insert(tx, "share_transfers", record); err != nil {
		return fmt.Errorf("failed to insert share transfer: %w", err)
	}

	// A mint carries the zero address as sender, a burn as recipient. Only
	// real holder positions are adjusted.
	if transfer.From != zeroAddress {
		if err := h.adjustPosition(tx, transfer.PropertyID, transfer.From,
			new(big.Int).Neg(transfer.Amount), at.BlockNumber); err != nil {
			return err
		}
	}
	if transfer.To != zeroAddress {
		if err := h.adjustPosition(tx, transfer.PropertyID, transfer.To,
			transfer.Amount, at.BlockNumber); err != nil {
			return err
		}
	}

	return nil
}

func (h *PropertyTokenHandler) adjustPosition(
	tx *sql.Tx,
	propertyID *big.Int,
	holder common.Address,
	delta *big.Int,
	block uint64,
) error {
	var pos Position
	err := meddler.QueryRow(tx, &pos,
		"SELECT * FROM positions WHERE contract_address = ? AND property_id = ? AND holder = ?",
		h.address.Hex(), propertyID.String(), holder.Hex())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to query position: %w", err)
		}
		pos = Position{
			ContractAddress: h.address,
			PropertyID:      propertyID,
			Holder:          holder,
			Balance:         new(big.Int),
		}
	}

	balance := new(big.Int).Add(pos.Balance, delta)
	if balance.Sign() < 0 {
		h.log.Warnf("position balance went negative, clamping to zero: contract=%s property=%s holder=%s balance=%s",
			h.name, propertyID.String(), holder.Hex(), balance.String())
		balance.SetInt64(0)
	}
	pos.Balance = balance
	pos.UpdatedBlock = block

	if pos.ID == 0 {
		if err := meddler.Insert(tx, "positions", &pos); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		return nil
	}

	if err := meddler.Update(tx, "positions", &pos); err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	return nil
}

// ListPositions returns the positions of a property token contract ordered by
// property then holder. A nil propertyID lists every property.
func ListPositions(dbx meddler.DB, contract common.Address, propertyID *big.Int) ([]*Position, error) {
	var (
		positions []*Position
		err       error
	)

	if propertyID == nil {
		err = meddler.QueryAll(dbx, &positions,
			"SELECT * FROM positions WHERE contract_address = ? ORDER BY property_id ASC, holder ASC",
			contract.Hex())
	} else {
		err = meddler.QueryAll(dbx, &positions,
			"SELECT * FROM positions WHERE contract_address = ? AND property_id = ? ORDER BY holder ASC",
			contract.Hex(), propertyID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}

	return positions, nil
}

// GetPosition returns one holder's position in a property, or nil when the
// holder has none.
func GetPosition(dbx meddler.DB, contract common.Address, propertyID *big.Int, holder common.Address) (*Position, error) {
	var pos Position
	err := meddler.QueryRow(dbx, &pos,
		"SELECT * FROM positions WHERE contract_address = ? AND property_id = ? AND holder = ?",
		contract.Hex(), propertyID.String(), holder.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}

	return &pos, nil
}

// ListShareTransfers returns a property's transfer history in chain order.
func ListShareTransfers(dbx meddler.DB, contract common.Address, propertyID *big.Int) ([]*ShareTransfer, error) {
	var transfers []*ShareTransfer
	err := meddler.QueryAll(dbx, &transfers,
		`SELECT * FROM share_transfers WHERE contract_address = ? AND property_id = ?
		ORDER BY block_number ASC, log_index ASC`,
		contract.Hex(), propertyID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query share transfers: %w", err)
	}

	return transfers, nil
}
