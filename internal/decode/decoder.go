package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical event signatures of the platform contracts.
const (
	TransferSig            = "Transfer(uint256,address,address,uint256)"
	ListingCreatedSig      = "ListingCreated(uint256,uint256,address,uint256,uint256)"
	ListingFilledSig       = "ListingFilled(uint256,address,uint256,uint256)"
	ListingCancelledSig    = "ListingCancelled(uint256)"
	DistributionCreatedSig = "DistributionCreated(uint256,uint256,uint256)"
	DistributionClaimedSig = "DistributionClaimed(uint256,address,uint256)"
)

// Topic hashes derived from the canonical signatures.
var (
	TransferTopic            = crypto.Keccak256Hash([]byte(TransferSig))
	ListingCreatedTopic      = crypto.Keccak256Hash([]byte(ListingCreatedSig))
	ListingFilledTopic       = crypto.Keccak256Hash([]byte(ListingFilledSig))
	ListingCancelledTopic    = crypto.Keccak256Hash([]byte(ListingCancelledSig))
	DistributionCreatedTopic = crypto.Keccak256Hash([]byte(DistributionCreatedSig))
	DistributionClaimedTopic = crypto.Keccak256Hash([]byte(DistributionClaimedSig))
)

// DecodeError reports a log that matched a known event topic but did not have
// the shape the event requires. Such logs are dead-lettered instead of
// aborting the sync cycle.
type DecodeError struct {
	Event  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Event, e.Reason)
}

func newDecodeError(event, format string, args ...any) *DecodeError {
	return &DecodeError{Event: event, Reason: fmt.Sprintf(format, args...)}
}

// DecodeLog decodes a raw log into a platform event. Logs whose first topic
// is not a platform event hash decode to Unknown. A non-nil error is always a
// *DecodeError and means the log claims to be a known event but is malformed.
func DecodeLog(log *types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return Unknown{}, nil
	}

	switch log.Topics[0] {
	case TransferTopic:
		return parseTransfer(log)
	case ListingCreatedTopic:
		return parseListingCreated(log)
	case ListingFilledTopic:
		return parseListingFilled(log)
	case ListingCancelledTopic:
		return parseListingCancelled(log)
	case DistributionCreatedTopic:
		return parseDistributionCreated(log)
	case DistributionClaimedTopic:
		return parseDistributionClaimed(log)
	default:
		return Unknown{Topic: log.Topics[0]}, nil
	}
}

func parseTransfer(log *types.Log) (Event, error) {
	if len(log.Topics) != 4 {
		return nil, newDecodeError("Transfer", "expected %d topics, got %d", 4, len(log.Topics))
	}

	if len(log.Data) != 32 {
		return nil, newDecodeError("Transfer", "expected %d data bytes, got %d", 32, len(log.Data))
	}

	return Transfer{
		PropertyID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		From:       common.BytesToAddress(log.Topics[2].Bytes()),
		To:         common.BytesToAddress(log.Topics[3].Bytes()),
		Amount:     new(big.Int).SetBytes(log.Data),
	}, nil
}

func parseListingCreated(log *types.Log) (Event, error) {
	if len(log.Topics) != 4 {
		return nil, newDecodeError("ListingCreated", "expected %d topics, got %d", 4, len(log.Topics))
	}

	if len(log.Data) != 64 {
		return nil, newDecodeError("ListingCreated", "expected %d data bytes, got %d", 64, len(log.Data))
	}

	return ListingCreated{
		ListingID:     new(big.Int).SetBytes(log.Topics[1].Bytes()),
		PropertyID:    new(big.Int).SetBytes(log.Topics[2].Bytes()),
		Seller:        common.BytesToAddress(log.Topics[3].Bytes()),
		Amount:        new(big.Int).SetBytes(log.Data[:32]),
		PricePerShare: new(big.Int).SetBytes(log.Data[32:]),
	}, nil
}

func parseListingFilled(log *types.Log) (Event, error) {
	if len(log.Topics) != 3 {
		return nil, newDecodeError("ListingFilled", "expected %d topics, got %d", 3, len(log.Topics))
	}

	if len(log.Data) != 64 {
		return nil, newDecodeError("ListingFilled", "expected %d data bytes, got %d", 64, len(log.Data))
	}

	return ListingFilled{
		ListingID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Buyer:     common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:    new(big.Int).SetBytes(log.Data[:32]),
		Remaining: new(big.Int).SetBytes(log.Data[32:]),
	}, nil
}

func parseListingCancelled(log *types.Log) (Event, error) {
	if len(log.Topics) != 2 {
		return nil, newDecodeError("ListingCancelled", "expected %d topics, got %d", 2, len(log.Topics))
	}

	if len(log.Data) != 0 {
		return nil, newDecodeError("ListingCancelled", "expected no data, got %d bytes", len(log.Data))
	}

	return ListingCancelled{
		ListingID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
	}, nil
}

func parseDistributionCreated(log *types.Log) (Event, error) {
	if len(log.Topics) != 3 {
		return nil, newDecodeError("DistributionCreated", "expected %d topics, got %d", 3, len(log.Topics))
	}

	if len(log.Data) != 32 {
		return nil, newDecodeError("DistributionCreated", "expected %d data bytes, got %d", 32, len(log.Data))
	}

	return DistributionCreated{
		DistributionID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		PropertyID:     new(big.Int).SetBytes(log.Topics[2].Bytes()),
		Amount:         new(big.Int).SetBytes(log.Data),
	}, nil
}

func parseDistributionClaimed(log *types.Log) (Event, error) {
	if len(log.Topics) != 3 {
		return nil, newDecodeError("DistributionClaimed", "expected %d topics, got %d", 3, len(log.Topics))
	}

	if len(log.Data) != 32 {
		return nil, newDecodeError("DistributionClaimed", "expected %d data bytes, got %d", 32, len(log.Data))
	}

	return DistributionClaimed{
		DistributionID: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Account:        common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:         new(big.Int).SetBytes(log.Data),
	}, nil
}
