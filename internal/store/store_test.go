package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/migrations"
	"github.com/estatechain/indexer/pkg/indexer"
)

func newStoreTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	database, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, database.Close())
	})

	return database
}

func testHash(b byte) common.Hash {
	return common.BytesToHash([]byte{b})
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	cp, err := GetCheckpoint(database, contract)
	require.NoError(t, err)
	require.Nil(t, cp)

	processedHash := testHash(0xaa)
	cp = &indexer.Checkpoint{
		ContractAddress:        contract,
		LastProcessedBlock:     1234,
		LastProcessedBlockHash: &processedHash,
	}
	require.NoError(t, SaveCheckpoint(database, cp))
	require.NotZero(t, cp.ID)
	require.NotZero(t, cp.UpdatedAt)

	got, err := GetCheckpoint(database, contract)
	require.NoError(t, err)
	require.Equal(t, cp.ID, got.ID)
	require.Equal(t, contract, got.ContractAddress)
	require.Equal(t, uint64(1234), got.LastProcessedBlock)
	require.Equal(t, processedHash, *got.LastProcessedBlockHash)
	require.Equal(t, uint64(0), got.LastCheckpointBlock)
	require.Nil(t, got.LastCheckpointBlockHash)

	checkpointHash := testHash(0xbb)
	got.LastProcessedBlock = 1300
	got.LastCheckpointBlock = 1300
	got.LastCheckpointBlockHash = &checkpointHash
	require.NoError(t, SaveCheckpoint(database, got))

	updated, err := GetCheckpoint(database, contract)
	require.NoError(t, err)
	require.Equal(t, got.ID, updated.ID)
	require.Equal(t, uint64(1300), updated.LastProcessedBlock)
	require.Equal(t, checkpointHash, *updated.LastCheckpointBlockHash)

	other := common.HexToAddress("0x0222222222222222222222222222222222222222")
	require.NoError(t, SaveCheckpoint(database, &indexer.Checkpoint{ContractAddress: other}))

	all, err := ListCheckpoints(database)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, other, all[0].ContractAddress)
	require.Equal(t, contract, all[1].ContractAddress)
}

func TestSaveCheckpointRejectsAnchorAboveTip(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	err := SaveCheckpoint(database, &indexer.Checkpoint{
		ContractAddress:     contract,
		LastProcessedBlock:  100,
		LastCheckpointBlock: 101,
	})
	require.ErrorContains(t, err, "checkpoint block 101 is above processed block 100")

	cp, err := GetCheckpoint(database, contract)
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestAnchors(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	for _, block := range []uint64{100, 300, 200} {
		require.NoError(t, RecordAnchor(database, &indexer.Anchor{
			ContractAddress: contract,
			BlockNumber:     block,
			BlockHash:       testHash(byte(block / 100)),
		}))
	}
	require.NoError(t, RecordAnchor(database, &indexer.Anchor{
		ContractAddress: other,
		BlockNumber:     150,
		BlockHash:       testHash(0xff),
	}))

	// Recording the same block again leaves the existing row in place.
	require.NoError(t, RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     200,
		BlockHash:       testHash(2),
	}))

	anchors, err := ListAnchors(database, contract)
	require.NoError(t, err)
	require.Len(t, anchors, 3)
	require.Equal(t, uint64(300), anchors[0].BlockNumber)
	require.Equal(t, uint64(200), anchors[1].BlockNumber)
	require.Equal(t, uint64(100), anchors[2].BlockNumber)

	deleted, err := DeleteAnchorsFrom(database, contract, 200)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	anchors, err = ListAnchors(database, contract)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, uint64(100), anchors[0].BlockNumber)

	// The other contract's anchors are untouched.
	anchors, err = ListAnchors(database, other)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
}

func TestPruneAnchors(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for block := uint64(100); block <= 500; block += 100 {
		require.NoError(t, RecordAnchor(database, &indexer.Anchor{
			ContractAddress: contract,
			BlockNumber:     block,
			BlockHash:       testHash(byte(block / 100)),
		}))
	}

	deleted, err := PruneAnchors(database, contract, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	anchors, err := ListAnchors(database, contract)
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	require.Equal(t, uint64(500), anchors[0].BlockNumber)
	require.Equal(t, uint64(400), anchors[1].BlockNumber)

	// Pruning below the kept count is a no-op.
	deleted, err = PruneAnchors(database, contract, 10)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func makeRawEvent(contract common.Address, name string, block uint64, logIndex uint, txSeed byte) *indexer.RawEvent {
	return &indexer.RawEvent{
		ContractAddress: contract,
		EventName:       name,
		BlockNumber:     block,
		BlockHash:       testHash(byte(block)),
		TxHash:          testHash(txSeed),
		LogIndex:        logIndex,
		Payload:         fmt.Sprintf(`{"seed":%d}`, txSeed),
	}
}

func TestRawEventJournal(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	ev := makeRawEvent(contract, "Transfer", 5, 1, 0x01)
	inserted, err := InsertRawEvent(database, ev)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotZero(t, ev.ID)
	require.NotZero(t, ev.CreatedAt)

	// The same (tx hash, log index) pair is reported as a duplicate.
	inserted, err = InsertRawEvent(database, makeRawEvent(contract, "Transfer", 5, 1, 0x01))
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = InsertRawEvent(database, makeRawEvent(contract, "ListingCreated", 5, 3, 0x02))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = InsertRawEvent(database, makeRawEvent(contract, "Transfer", 7, 0, 0x03))
	require.NoError(t, err)
	require.True(t, inserted)

	count, err := CountRawEvents(database, contract)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	counts, err := EventCounts(database, contract)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Transfer": 2, "ListingCreated": 1}, counts)

	// First page in chain order.
	events, err := ListRawEvents(database, contract, nil, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(5), events[0].BlockNumber)
	require.Equal(t, uint(1), events[0].LogIndex)
	require.Equal(t, uint64(5), events[1].BlockNumber)
	require.Equal(t, uint(3), events[1].LogIndex)

	// Second page resumes after the cursor.
	cursor := &ReplayCursor{BlockNumber: 5, LogIndex: 3}
	events, err = ListRawEvents(database, contract, cursor, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(7), events[0].BlockNumber)
	require.Equal(t, `{"seed":3}`, events[0].Payload)

	deleted, err := DeleteRawEventsFrom(database, contract, 5)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	count, err = CountRawEvents(database, contract)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()

	database := newStoreTestDB(t)
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")

	failure := &indexer.DecodeFailure{
		ContractAddress: contract,
		BlockNumber:     50,
		BlockHash:       testHash(0x50),
		TxHash:          testHash(0x01),
		LogIndex:        2,
		Topics:          "0xabc",
		Data:            "0x",
		Reason:          "expected 4 topics, got 2",
	}
	inserted, err := InsertDecodeFailure(database, failure)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotZero(t, failure.CreatedAt)

	inserted, err = InsertDecodeFailure(database, &indexer.DecodeFailure{
		ContractAddress: contract,
		BlockNumber:     50,
		TxHash:          testHash(0x01),
		LogIndex:        2,
		Reason:          "expected 4 topics, got 2",
	})
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = InsertDecodeFailure(database, &indexer.DecodeFailure{
		ContractAddress: other,
		BlockNumber:     60,
		TxHash:          testHash(0x02),
		LogIndex:        0,
		Reason:          "expected 32 data bytes, got 0",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	all, err := ListDecodeFailures(database, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(60), all[0].BlockNumber)
	require.Equal(t, uint64(50), all[1].BlockNumber)

	filtered, err := ListDecodeFailures(database, &contract, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "expected 4 topics, got 2", filtered[0].Reason)

	count, err := CountDecodeFailures(database, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	count, err = CountDecodeFailures(database, &other)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	deleted, err := DeleteDecodeFailuresFrom(database, contract, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	count, err = CountDecodeFailures(database, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
