package decode

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

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

func TestDecodeLog_Transfer(t *testing.T) {
	t.Parallel()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	ev, err := DecodeLog(&types.Log{
		Topics: []common.Hash{TransferTopic, numTopic(7), addrTopic(from), addrTopic(to)},
		Data:   word(2500),
	})
	require.NoError(t, err)

	transfer, ok := ev.(Transfer)
	require.True(t, ok)
	require.Equal(t, "Transfer", transfer.Name())
	require.Equal(t, int64(7), transfer.PropertyID.Int64())
	require.Equal(t, from, transfer.From)
	require.Equal(t, to, transfer.To)
	require.Equal(t, int64(2500), transfer.Amount.Int64())
}

func TestDecodeLog_Marketplace(t *testing.T) {
	t.Parallel()

	seller := common.HexToAddress("0x3333333333333333333333333333333333333333")
	buyer := common.HexToAddress("0x4444444444444444444444444444444444444444")

	ev, err := DecodeLog(&types.Log{
		Topics: []common.Hash{ListingCreatedTopic, numTopic(12), numTopic(7), addrTopic(seller)},
		Data:   words(100, 50),
	})
	require.NoError(t, err)

	created, ok := ev.(ListingCreated)
	require.True(t, ok)
	require.Equal(t, int64(12), created.ListingID.Int64())
	require.Equal(t, int64(7), created.PropertyID.Int64())
	require.Equal(t, seller, created.Seller)
	require.Equal(t, int64(100), created.Amount.Int64())
	require.Equal(t, int64(50), created.PricePerShare.Int64())

	ev, err = DecodeLog(&types.Log{
		Topics: []common.Hash{ListingFilledTopic, numTopic(12), addrTopic(buyer)},
		Data:   words(40, 60),
	})
	require.NoError(t, err)

	filled, ok := ev.(ListingFilled)
	require.True(t, ok)
	require.Equal(t, int64(12), filled.ListingID.Int64())
	require.Equal(t, buyer, filled.Buyer)
	require.Equal(t, int64(40), filled.Amount.Int64())
	require.Equal(t, int64(60), filled.Remaining.Int64())

	ev, err = DecodeLog(&types.Log{
		Topics: []common.Hash{ListingCancelledTopic, numTopic(12)},
	})
	require.NoError(t, err)

	cancelled, ok := ev.(ListingCancelled)
	require.True(t, ok)
	require.Equal(t, int64(12), cancelled.ListingID.Int64())
}

func TestDecodeLog_Distributor(t *testing.T) {
	t.Parallel()

	account := common.HexToAddress("0x5555555555555555555555555555555555555555")

	ev, err := DecodeLog(&types.Log{
		Topics: []common.Hash{DistributionCreatedTopic, numTopic(3), numTopic(7)},
		Data:   word(10000),
	})
	require.NoError(t, err)

	created, ok := ev.(DistributionCreated)
	require.True(t, ok)
	require.Equal(t, int64(3), created.DistributionID.Int64())
	require.Equal(t, int64(7), created.PropertyID.Int64())
	require.Equal(t, int64(10000), created.Amount.Int64())

	ev, err = DecodeLog(&types.Log{
		Topics: []common.Hash{DistributionClaimedTopic, numTopic(3), addrTopic(account)},
		Data:   word(250),
	})
	require.NoError(t, err)

	claimed, ok := ev.(DistributionClaimed)
	require.True(t, ok)
	require.Equal(t, int64(3), claimed.DistributionID.Int64())
	require.Equal(t, account, claimed.Account)
	require.Equal(t, int64(250), claimed.Amount.Int64())
}

func TestDecodeLog_Unknown(t *testing.T) {
	t.Parallel()

	otherTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

	ev, err := DecodeLog(&types.Log{
		Topics: []common.Hash{otherTopic, numTopic(1)},
		Data:   word(5),
	})
	require.NoError(t, err)

	unknown, ok := ev.(Unknown)
	require.True(t, ok)
	require.Equal(t, otherTopic, unknown.Topic)

	ev, err = DecodeLog(&types.Log{})
	require.NoError(t, err)
	require.IsType(t, Unknown{}, ev)
}

func TestDecodeLog_Malformed(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x6666666666666666666666666666666666666666")

	cases := []struct {
		name   string
		log    *types.Log
		reason string
	}{
		{
			name: "transfer missing topics",
			log: &types.Log{
				Topics: []common.Hash{TransferTopic, numTopic(7)},
				Data:   word(100),
			},
			reason: "invalid Transfer event: expected 4 topics, got 2",
		},
		{
			name: "transfer short data",
			log: &types.Log{
				Topics: []common.Hash{TransferTopic, numTopic(7), addrTopic(addr), addrTopic(addr)},
				Data:   []byte{0x01, 0x02},
			},
			reason: "invalid Transfer event: expected 32 data bytes, got 2",
		},
		{
			name: "listing created short data",
			log: &types.Log{
				Topics: []common.Hash{ListingCreatedTopic, numTopic(1), numTopic(7), addrTopic(addr)},
				Data:   word(100),
			},
			reason: "invalid ListingCreated event: expected 64 data bytes, got 32",
		},
		{
			name: "listing filled extra topics",
			log: &types.Log{
				Topics: []common.Hash{ListingFilledTopic, numTopic(1), addrTopic(addr), numTopic(9)},
				Data:   words(40, 60),
			},
			reason: "invalid ListingFilled event: expected 3 topics, got 4",
		},
		{
			name: "listing cancelled with data",
			log: &types.Log{
				Topics: []common.Hash{ListingCancelledTopic, numTopic(1)},
				Data:   word(1),
			},
			reason: "invalid ListingCancelled event: expected no data, got 32 bytes",
		},
		{
			name: "distribution created missing topics",
			log: &types.Log{
				Topics: []common.Hash{DistributionCreatedTopic, numTopic(1)},
				Data:   word(100),
			},
			reason: "invalid DistributionCreated event: expected 3 topics, got 2",
		},
		{
			name: "distribution claimed long data",
			log: &types.Log{
				Topics: []common.Hash{DistributionClaimedTopic, numTopic(1), addrTopic(addr)},
				Data:   words(1, 2),
			},
			reason: "invalid DistributionClaimed event: expected 32 data bytes, got 64",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ev, err := DecodeLog(tc.log)
			require.Nil(t, ev)
			require.Error(t, err)
			require.EqualError(t, err, tc.reason)

			decodeErr := &DecodeError{}
			require.True(t, errors.As(err, &decodeErr))
			require.NotEmpty(t, decodeErr.Event)
			require.NotEmpty(t, decodeErr.Reason)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	hugeAmount, ok := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	require.True(t, ok)

	events := []Event{
		Transfer{
			PropertyID: big.NewInt(7),
			From:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
			To:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Amount:     hugeAmount,
		},
		ListingCreated{
			ListingID:     big.NewInt(12),
			PropertyID:    big.NewInt(7),
			Seller:        common.HexToAddress("0x3333333333333333333333333333333333333333"),
			Amount:        big.NewInt(100),
			PricePerShare: big.NewInt(50),
		},
		ListingFilled{
			ListingID: big.NewInt(12),
			Buyer:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
			Amount:    big.NewInt(40),
			Remaining: big.NewInt(60),
		},
		ListingCancelled{ListingID: big.NewInt(12)},
		DistributionCreated{
			DistributionID: big.NewInt(3),
			PropertyID:     big.NewInt(7),
			Amount:         big.NewInt(10000),
		},
		DistributionClaimed{
			DistributionID: big.NewInt(3),
			Account:        common.HexToAddress("0x5555555555555555555555555555555555555555"),
			Amount:         big.NewInt(250),
		},
	}

	for _, ev := range events {
		t.Run(ev.Name(), func(t *testing.T) {
			t.Parallel()

			payload, err := MarshalPayload(ev)
			require.NoError(t, err)
			require.NotEmpty(t, payload)

			restored, err := UnmarshalPayload(ev.Name(), payload)
			require.NoError(t, err)
			require.Equal(t, ev, restored)
		})
	}
}

func TestUnmarshalPayload_Errors(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalPayload("Approval", `{}`)
	require.ErrorContains(t, err, `unknown event name "Approval"`)

	_, err = UnmarshalPayload("Transfer", `{not json`)
	require.ErrorContains(t, err, "failed to unmarshal Transfer payload")
}
