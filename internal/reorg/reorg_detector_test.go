package reorg

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/internal/migrations"
	"github.com/estatechain/indexer/internal/store"
	"github.com/estatechain/indexer/pkg/indexer"
	"github.com/estatechain/indexer/pkg/reorg"
)

// fakeEthClient serves canned headers keyed by block number. Absent blocks
// behave like the real client and surface ethereum.NotFound.
type fakeEthClient struct {
	headers     map[uint64]*types.Header
	errByBlock  map[uint64]error
	headerCalls int
}

func newFakeEthClient() *fakeEthClient {
	return &fakeEthClient{
		headers:    make(map[uint64]*types.Header),
		errByBlock: make(map[uint64]error),
	}
}

func (f *fakeEthClient) Close() {}

func (f *fakeEthClient) GetLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeEthClient) GetBlockHeader(_ context.Context, blockNum uint64) (*types.Header, error) {
	f.headerCalls++

	if err, ok := f.errByBlock[blockNum]; ok {
		return nil, err
	}
	header, ok := f.headers[blockNum]
	if !ok {
		return nil, ethereum.NotFound
	}

	return header, nil
}

func (f *fakeEthClient) GetLatestBlockHeader(context.Context) (*types.Header, error) {
	var latest *types.Header
	for _, header := range f.headers {
		if latest == nil || header.Number.Cmp(latest.Number) > 0 {
			latest = header
		}
	}
	if latest == nil {
		return nil, ethereum.NotFound
	}

	return latest, nil
}

func (f *fakeEthClient) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	return f.GetLatestBlockHeader(ctx)
}

func (f *fakeEthClient) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	return f.GetLatestBlockHeader(ctx)
}

func (f *fakeEthClient) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	results := make([][]types.Log, len(queries))
	for i, query := range queries {
		logs, err := f.GetLogs(ctx, query)
		if err != nil {
			return nil, err
		}
		results[i] = logs
	}

	return results, nil
}

func (f *fakeEthClient) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	results := make([]*types.Header, len(blockNums))
	for i, blockNum := range blockNums {
		header, err := f.GetBlockHeader(ctx, blockNum)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		results[i] = header
	}

	return results, nil
}

func testHeader(blockNum uint64) *types.Header {
	return &types.Header{
		Number:     big.NewInt(int64(blockNum)),
		ParentHash: common.BytesToHash([]byte{byte(blockNum - 1)}),
		Difficulty: big.NewInt(1),
		GasLimit:   8000000,
		Time:       1000000 + blockNum,
	}
}

func newReorgTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "reorg_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	database, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, database.Close())
	})

	return database
}

func hashPtr(h common.Hash) *common.Hash {
	return &h
}

func TestDetector_Check_NothingToVerify(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	detector := NewDetector(client, logger.NewNopLogger())

	require.NoError(t, detector.Check(context.Background(), nil))

	// A zero-valued checkpoint has no hashes recorded yet.
	cp := &indexer.Checkpoint{
		ContractAddress:    common.HexToAddress("0xAA"),
		LastProcessedBlock: 0,
	}
	require.NoError(t, detector.Check(context.Background(), cp))
	require.Zero(t, client.headerCalls)
}

func TestDetector_Check_HashesMatch(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	anchor := testHeader(100)
	tip := testHeader(110)
	client.headers[100] = anchor
	client.headers[110] = tip

	detector := NewDetector(client, logger.NewNopLogger())

	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      110,
		LastProcessedBlockHash:  hashPtr(tip.Hash()),
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: hashPtr(anchor.Hash()),
	}

	require.NoError(t, detector.Check(context.Background(), cp))
	require.Equal(t, 2, client.headerCalls)
}

func TestDetector_Check_TipEqualsAnchor(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	header := testHeader(100)
	client.headers[100] = header

	detector := NewDetector(client, logger.NewNopLogger())

	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      100,
		LastProcessedBlockHash:  hashPtr(header.Hash()),
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: hashPtr(header.Hash()),
	}

	require.NoError(t, detector.Check(context.Background(), cp))
	// One header fetch covers both the anchor and the tip.
	require.Equal(t, 1, client.headerCalls)
}

func TestDetector_Check_AnchorMismatch(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	client.headers[100] = testHeader(100)
	client.headers[110] = testHeader(110)

	detector := NewDetector(client, logger.NewNopLogger())

	stale := common.BytesToHash([]byte("orphaned"))
	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      110,
		LastProcessedBlockHash:  hashPtr(client.headers[110].Hash()),
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: &stale,
	}

	err := detector.Check(context.Background(), cp)
	require.Error(t, err)

	reorgErr, ok := reorg.AsReorgError(err)
	require.True(t, ok)
	require.Equal(t, uint64(100), reorgErr.FirstReorgBlock)
	require.Contains(t, reorgErr.Details, stale.Hex())
}

func TestDetector_Check_TipMismatch(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	anchor := testHeader(100)
	client.headers[100] = anchor
	client.headers[110] = testHeader(110)

	detector := NewDetector(client, logger.NewNopLogger())

	stale := common.BytesToHash([]byte("orphaned-tip"))
	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      110,
		LastProcessedBlockHash:  &stale,
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: hashPtr(anchor.Hash()),
	}

	err := detector.Check(context.Background(), cp)
	require.Error(t, err)

	reorgErr, ok := reorg.AsReorgError(err)
	require.True(t, ok)
	require.Equal(t, uint64(110), reorgErr.FirstReorgBlock)
}

func TestDetector_Check_BlockGoneFromChain(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	anchor := testHeader(100)
	client.headers[100] = anchor
	// No header at 110: the chain shrank below the processed tip.

	detector := NewDetector(client, logger.NewNopLogger())

	stale := common.BytesToHash([]byte("vanished"))
	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      110,
		LastProcessedBlockHash:  &stale,
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: hashPtr(anchor.Hash()),
	}

	err := detector.Check(context.Background(), cp)
	require.Error(t, err)

	reorgErr, ok := reorg.AsReorgError(err)
	require.True(t, ok)
	require.Equal(t, uint64(110), reorgErr.FirstReorgBlock)
	require.Contains(t, reorgErr.Details, "block not found on chain")
}

func TestDetector_Check_TransientErrorIsNotAReorg(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()
	client.errByBlock[100] = errors.New("connection refused")

	detector := NewDetector(client, logger.NewNopLogger())

	stale := common.BytesToHash([]byte{0x01})
	cp := &indexer.Checkpoint{
		ContractAddress:         common.HexToAddress("0xAA"),
		LastProcessedBlock:      100,
		LastCheckpointBlock:     100,
		LastCheckpointBlockHash: &stale,
	}

	err := detector.Check(context.Background(), cp)
	require.Error(t, err)

	_, ok := reorg.AsReorgError(err)
	require.False(t, ok)
}

func TestDetector_FindRollbackAnchor(t *testing.T) {
	t.Parallel()

	database := newReorgTestDB(t)
	client := newFakeEthClient()
	contract := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	for _, blockNum := range []uint64{95, 97, 99, 100} {
		client.headers[blockNum] = testHeader(blockNum)
	}

	// Anchors at 95, 97 and 99 are canonical; the one at 100 is orphaned.
	for _, blockNum := range []uint64{95, 97, 99} {
		require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
			ContractAddress: contract,
			BlockNumber:     blockNum,
			BlockHash:       client.headers[blockNum].Hash(),
		}))
	}
	require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     100,
		BlockHash:       common.BytesToHash([]byte("orphaned")),
	}))

	detector := NewDetector(client, logger.NewNopLogger())

	anchor, err := detector.FindRollbackAnchor(context.Background(), database, contract, 100)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	require.Equal(t, uint64(99), anchor.BlockNumber)
	require.Equal(t, client.headers[99].Hash(), anchor.BlockHash)

	// Anchors at or above beforeBlock are never candidates.
	anchor, err = detector.FindRollbackAnchor(context.Background(), database, contract, 96)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	require.Equal(t, uint64(95), anchor.BlockNumber)

	anchor, err = detector.FindRollbackAnchor(context.Background(), database, contract, 95)
	require.NoError(t, err)
	require.Nil(t, anchor)
}

func TestDetector_FindRollbackAnchor_SkipsOrphanedAnchors(t *testing.T) {
	t.Parallel()

	database := newReorgTestDB(t)
	client := newFakeEthClient()
	contract := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	client.headers[97] = testHeader(97)
	client.headers[99] = testHeader(99)

	// The anchor at 99 went stale in a deep reorg; 98 is past the fake
	// chain's knowledge entirely; 97 is still canonical.
	require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     97,
		BlockHash:       client.headers[97].Hash(),
	}))
	require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     98,
		BlockHash:       common.BytesToHash([]byte("beyond-head")),
	}))
	require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     99,
		BlockHash:       common.BytesToHash([]byte("stale")),
	}))

	detector := NewDetector(client, logger.NewNopLogger())

	anchor, err := detector.FindRollbackAnchor(context.Background(), database, contract, 105)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	require.Equal(t, uint64(97), anchor.BlockNumber)
}

func TestDetector_FindRollbackAnchor_NoAnchors(t *testing.T) {
	t.Parallel()

	database := newReorgTestDB(t)
	detector := NewDetector(newFakeEthClient(), logger.NewNopLogger())

	anchor, err := detector.FindRollbackAnchor(context.Background(), database,
		common.HexToAddress("0xBB"), 100)
	require.NoError(t, err)
	require.Nil(t, anchor)
}

func TestDetector_FindRollbackAnchor_TransientError(t *testing.T) {
	t.Parallel()

	database := newReorgTestDB(t)
	client := newFakeEthClient()
	contract := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	require.NoError(t, store.RecordAnchor(database, &indexer.Anchor{
		ContractAddress: contract,
		BlockNumber:     99,
		BlockHash:       common.BytesToHash([]byte{0x63}),
	}))
	client.errByBlock[99] = errors.New("rpc unreachable")

	detector := NewDetector(client, logger.NewNopLogger())

	_, err := detector.FindRollbackAnchor(context.Background(), database, contract, 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "anchor block 99")
}
