package handler

import (
	"context"
	"database/sql"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/decode"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/migrations"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/config"
	"github.com/estatechain/indexer/pkg/indexer"
)

const (
	testContractHex = "0x00000000000000000000000000000000000000AA"
	holderOneHex    = "0x1111111111111111111111111111111111111111"
	holderTwoHex    = "0x2222222222222222222222222222222222222222"
)

func newHandlerTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "handler_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	database, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, database.Close())
	})

	return database
}

func numTopic(n int64) common.Hash {
	return common.BigToHash(big.NewInt(n))
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func word(n int64) []byte {
	return common.BigToHash(big.NewInt(n)).Bytes()
}

func words(ns ...int64) []byte {
	var data []byte
	for _, n := range ns {
		data = append(data, word(n)...)
	}

	return data
}

// makeLog builds a log at the given chain coordinates. The tx hash is derived
// from the coordinates so every log is unique.
func makeLog(contract common.Address, block uint64, logIndex uint, topics []common.Hash, data []byte) *types.Log {
	return &types.Log{
		Address:     contract,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.BigToHash(big.NewInt(int64(block))),
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(logIndex))),
		Index:       logIndex,
	}
}

func transferLog(contract common.Address, block uint64, logIndex uint, propertyID int64, from, to common.Address, amount int64) *types.Log {
	return makeLog(contract, block, logIndex,
		[]common.Hash{decode.TransferTopic, numTopic(propertyID), addrTopic(from), addrTopic(to)},
		word(amount))
}

func ingest(t *testing.T, database *sql.DB, h indexer.Handler, lg *types.Log) *indexer.IngestResult {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)

	result, err := h.HandleLog(context.Background(), tx, lg)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return result
}

func newPropertyHandler(t *testing.T) indexer.Handler {
	t.Helper()

	h, err := NewPropertyTokenHandler(config.ContractConfig{
		Name:       "maple-house-shares",
		Kind:       KindPropertyToken,
		Address:    testContractHex,
		StartBlock: 10,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	return h
}

func TestNewBaseHandler_Config(t *testing.T) {
	t.Parallel()

	log := logger.NewNopLogger()

	t.Run("defaults to all kind events", func(t *testing.T) {
		t.Parallel()

		h, err := NewMarketplaceHandler(config.ContractConfig{
			Name:    "market",
			Kind:    KindMarketplace,
			Address: testContractHex,
		}, log)
		require.NoError(t, err)
		require.ElementsMatch(t, []common.Hash{
			decode.ListingCreatedTopic,
			decode.ListingFilledTopic,
			decode.ListingCancelledTopic,
		}, h.Topics())
	})

	t.Run("event subset narrows topics", func(t *testing.T) {
		t.Parallel()

		h, err := NewPropertyTokenHandler(config.ContractConfig{
			Name:    "shares",
			Kind:    KindPropertyToken,
			Address: testContractHex,
			Events:  []string{decode.TransferSig},
		}, log)
		require.NoError(t, err)
		require.Equal(t, []common.Hash{decode.TransferTopic}, h.Topics())
	})

	t.Run("rejects event of another kind", func(t *testing.T) {
		t.Parallel()

		_, err := NewPropertyTokenHandler(config.ContractConfig{
			Name:    "shares",
			Kind:    KindPropertyToken,
			Address: testContractHex,
			Events:  []string{decode.ListingCreatedSig},
		}, log)
		require.ErrorContains(t, err, "not supported by kind property_token")
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		t.Parallel()

		_, err := NewPropertyTokenHandler(config.ContractConfig{
			Name:    "shares",
			Kind:    KindPropertyToken,
			Address: "not-an-address",
		}, log)
		require.ErrorContains(t, err, "invalid address")
	})

	t.Run("accessors reflect config", func(t *testing.T) {
		t.Parallel()

		h := newPropertyHandler(t)
		require.Equal(t, "maple-house-shares", h.Name())
		require.Equal(t, KindPropertyToken, h.Kind())
		require.Equal(t, common.HexToAddress(testContractHex), h.Address())
		require.Equal(t, uint64(10), h.StartBlock())
	})
}

func TestPropertyToken_BasicSync(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	holder := common.HexToAddress(holderOneHex)

	// Mint 2500 shares of property 7 to the holder at block 50, log index 2.
	result := ingest(t, database, h, transferLog(contract, 50, 2, 7, zeroAddress, holder, 2500))
	require.True(t, result.Journaled)
	require.False(t, result.Duplicate)
	require.False(t, result.DeadLettered)

	events, err := store.ListRawEvents(database, contract, nil, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Transfer", events[0].EventName)
	require.Equal(t, uint64(50), events[0].BlockNumber)
	require.Equal(t, uint(2), events[0].LogIndex)
	require.Contains(t, events[0].Payload, `"propertyId":7`)

	pos, err := GetPosition(database, contract, big.NewInt(7), holder)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, "2500", pos.Balance.String())
	require.Equal(t, uint64(50), pos.UpdatedBlock)

	transfers, err := ListShareTransfers(database, contract, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, zeroAddress, transfers[0].Sender)
	require.Equal(t, holder, transfers[0].Recipient)
	require.Equal(t, "2500", transfers[0].Amount.String())
}

func TestPropertyToken_TransfersMoveBalances(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	alice := common.HexToAddress(holderOneHex)
	bob := common.HexToAddress(holderTwoHex)

	ingest(t, database, h, transferLog(contract, 50, 0, 7, zeroAddress, alice, 1000))
	ingest(t, database, h, transferLog(contract, 51, 0, 7, alice, bob, 400))
	// Burn 100 of bob's shares.
	ingest(t, database, h, transferLog(contract, 52, 0, 7, bob, zeroAddress, 100))

	alicePos, err := GetPosition(database, contract, big.NewInt(7), alice)
	require.NoError(t, err)
	require.Equal(t, "600", alicePos.Balance.String())

	bobPos, err := GetPosition(database, contract, big.NewInt(7), bob)
	require.NoError(t, err)
	require.Equal(t, "300", bobPos.Balance.String())
	require.Equal(t, uint64(52), bobPos.UpdatedBlock)

	// The zero address never gets a position row.
	positions, err := ListPositions(database, contract, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, positions, 2)

	// Positions are scoped per property.
	ingest(t, database, h, transferLog(contract, 53, 0, 8, zeroAddress, alice, 50))

	alice7, err := GetPosition(database, contract, big.NewInt(7), alice)
	require.NoError(t, err)
	require.Equal(t, "600", alice7.Balance.String())

	alice8, err := GetPosition(database, contract, big.NewInt(8), alice)
	require.NoError(t, err)
	require.Equal(t, "50", alice8.Balance.String())
}

func TestPropertyToken_DuplicateLogSkipsDerived(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	holder := common.HexToAddress(holderOneHex)

	lg := transferLog(contract, 50, 2, 7, zeroAddress, holder, 2500)

	first := ingest(t, database, h, lg)
	require.True(t, first.Journaled)

	second := ingest(t, database, h, lg)
	require.True(t, second.Duplicate)
	require.False(t, second.Journaled)

	// The balance was applied exactly once.
	pos, err := GetPosition(database, contract, big.NewInt(7), holder)
	require.NoError(t, err)
	require.Equal(t, "2500", pos.Balance.String())

	count, err := store.CountRawEvents(database, contract)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestPropertyToken_MalformedLogIsDeadLettered(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	alice := common.HexToAddress(holderOneHex)
	bob := common.HexToAddress(holderTwoHex)

	logs := []*types.Log{
		transferLog(contract, 60, 0, 7, zeroAddress, alice, 100),
		transferLog(contract, 60, 1, 7, zeroAddress, bob, 200),
		// Malformed: Transfer topic with too few topics.
		makeLog(contract, 61, 0, []common.Hash{decode.TransferTopic, numTopic(7)}, word(300)),
		transferLog(contract, 61, 1, 7, alice, bob, 50),
		transferLog(contract, 62, 0, 7, bob, alice, 25),
	}

	var deadLettered int
	for _, lg := range logs {
		result := ingest(t, database, h, lg)
		if result.DeadLettered {
			deadLettered++
		}
	}
	require.Equal(t, 1, deadLettered)

	count, err := store.CountRawEvents(database, contract)
	require.NoError(t, err)
	require.Equal(t, int64(4), count)

	failures, err := store.ListDecodeFailures(database, &contract, 10, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, uint64(61), failures[0].BlockNumber)
	require.Contains(t, failures[0].Reason, "expected 4 topics, got 2")
	require.Contains(t, failures[0].Topics, decode.TransferTopic.Hex())

	// The healthy logs around the bad one were all applied.
	alicePos, err := GetPosition(database, contract, big.NewInt(7), alice)
	require.NoError(t, err)
	require.Equal(t, "75", alicePos.Balance.String())
}

func TestPropertyToken_UnknownTopicDeadLettered(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)

	otherTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	result := ingest(t, database, h, makeLog(contract, 50, 0, []common.Hash{otherTopic}, word(1)))
	require.False(t, result.Journaled)
	require.False(t, result.Duplicate)
	require.True(t, result.DeadLettered)

	// Never journaled: the journal holds only decodable platform events.
	count, err := store.CountRawEvents(database, contract)
	require.NoError(t, err)
	require.Zero(t, count)

	// The raw payload is preserved for manual inspection.
	failures, err := store.ListDecodeFailures(database, &contract, 10, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, uint64(50), failures[0].BlockNumber)
	require.Contains(t, failures[0].Reason, "unknown event topic "+otherTopic.Hex())
	require.Equal(t, otherTopic.Hex(), failures[0].Topics)
	require.Equal(t, "0x"+common.Bytes2Hex(word(1)), failures[0].Data)

	// A topicless log is dead-lettered the same way.
	bare := ingest(t, database, h, makeLog(contract, 51, 0, nil, nil))
	require.True(t, bare.DeadLettered)

	bareCount, err := store.CountDecodeFailures(database, &contract)
	require.NoError(t, err)
	require.Equal(t, int64(2), bareCount)
}

func TestPropertyToken_NegativeBalanceClampsToZero(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	alice := common.HexToAddress(holderOneHex)
	bob := common.HexToAddress(holderTwoHex)

	ingest(t, database, h, transferLog(contract, 50, 0, 7, zeroAddress, alice, 100))
	// Alice sends more than she holds, e.g. because indexing started after
	// some of her funding transfers.
	ingest(t, database, h, transferLog(contract, 51, 0, 7, alice, bob, 150))

	alicePos, err := GetPosition(database, contract, big.NewInt(7), alice)
	require.NoError(t, err)
	require.Equal(t, "0", alicePos.Balance.String())

	bobPos, err := GetPosition(database, contract, big.NewInt(7), bob)
	require.NoError(t, err)
	require.Equal(t, "150", bobPos.Balance.String())
}

func TestPropertyToken_ApplicationOrderChangesBalances(t *testing.T) {
	t.Parallel()

	contract := common.HexToAddress(testContractHex)
	alice := common.HexToAddress(holderOneHex)
	bob := common.HexToAddress(holderTwoHex)

	mint := transferLog(contract, 50, 0, 7, zeroAddress, alice, 100)
	spend := transferLog(contract, 51, 0, 7, alice, bob, 150)

	aliceBalanceAfter := func(t *testing.T, logs ...*types.Log) string {
		database := newHandlerTestDB(t)
		h := newPropertyHandler(t)
		for _, lg := range logs {
			ingest(t, database, h, lg)
		}

		pos, err := GetPosition(database, contract, big.NewInt(7), alice)
		require.NoError(t, err)
		require.NotNil(t, pos)
		return pos.Balance.String()
	}

	// In chain order the block-51 overspend clamps alice to zero. Applied
	// spend-first, the clamp fires on an empty position and the mint then
	// credits her in full, so only the chain-order result is correct.
	inOrder := aliceBalanceAfter(t, mint, spend)
	reversed := aliceBalanceAfter(t, spend, mint)

	require.Equal(t, "0", inOrder)
	require.Equal(t, "100", reversed)
	require.NotEqual(t, inOrder, reversed)
}

func TestPropertyToken_ReplayRebuildsDerivedState(t *testing.T) {
	t.Parallel()

	database := newHandlerTestDB(t)
	h := newPropertyHandler(t)
	contract := common.HexToAddress(testContractHex)
	alice := common.HexToAddress(holderOneHex)
	bob := common.HexToAddress(holderTwoHex)

	ingest(t, database, h, transferLog(contract, 50, 0, 7, zeroAddress, alice, 1000))
	ingest(t, database, h, transferLog(contract, 51, 0, 7, alice, bob, 400))
	ingest(t, database, h, transferLog(contract, 51, 1, 7, alice, bob, 100))
	ingest(t, database, h, transferLog(contract, 52, 0, 8, zeroAddress, bob, 77))

	snapshot := func() map[string]string {
		positions, err := ListPositions(database, contract, nil)
		require.NoError(t, err)

		state := make(map[string]string, len(positions))
		for _, pos := range positions {
			state[pos.PropertyID.String()+"/"+pos.Holder.Hex()] = pos.Balance.String()
		}
		return state
	}

	before := snapshot()
	require.Len(t, before, 3)

	// Wipe the derived tables and replay the journal.
	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, h.ResetDerived(context.Background(), tx))

	var cursor *store.ReplayCursor
	for {
		events, err := store.ListRawEvents(tx, contract, cursor, 2)
		require.NoError(t, err)
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			require.NoError(t, h.ReplayEvent(context.Background(), tx, ev))
		}
		last := events[len(events)-1]
		cursor = &store.ReplayCursor{BlockNumber: last.BlockNumber, LogIndex: last.LogIndex}
	}
	require.NoError(t, tx.Commit())

	require.Equal(t, before, snapshot())

	transfers, err := ListShareTransfers(database, contract, big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, transfers, 3)
}
