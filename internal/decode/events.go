package decode

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a decoded platform event. The concrete type identifies the event;
// handlers switch on it to apply derived-state mutations.
type Event interface {
	// Name returns the event name as recorded in the event journal.
	Name() string
}

// Transfer moves property shares between two accounts. Mints carry the zero
// address as sender, burns carry it as recipient.
type Transfer struct {
	PropertyID *big.Int       `json:"propertyId"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Amount     *big.Int       `json:"amount"`
}

func (Transfer) Name() string { return "Transfer" }

// ListingCreated opens a marketplace listing offering shares of a property.
type ListingCreated struct {
	ListingID     *big.Int       `json:"listingId"`
	PropertyID    *big.Int       `json:"propertyId"`
	Seller        common.Address `json:"seller"`
	Amount        *big.Int       `json:"amount"`
	PricePerShare *big.Int       `json:"pricePerShare"`
}

func (ListingCreated) Name() string { return "ListingCreated" }

// ListingFilled records a partial or complete fill of a listing. Remaining is
// the amount still for sale after the fill.
type ListingFilled struct {
	ListingID *big.Int       `json:"listingId"`
	Buyer     common.Address `json:"buyer"`
	Amount    *big.Int       `json:"amount"`
	Remaining *big.Int       `json:"remaining"`
}

func (ListingFilled) Name() string { return "ListingFilled" }

// ListingCancelled closes a listing without selling the remaining shares.
type ListingCancelled struct {
	ListingID *big.Int `json:"listingId"`
}

func (ListingCancelled) Name() string { return "ListingCancelled" }

// DistributionCreated announces a revenue distribution for a property.
type DistributionCreated struct {
	DistributionID *big.Int `json:"distributionId"`
	PropertyID     *big.Int `json:"propertyId"`
	Amount         *big.Int `json:"amount"`
}

func (DistributionCreated) Name() string { return "DistributionCreated" }

// DistributionClaimed records an account claiming its part of a distribution.
type DistributionClaimed struct {
	DistributionID *big.Int       `json:"distributionId"`
	Account        common.Address `json:"account"`
	Amount         *big.Int       `json:"amount"`
}

func (DistributionClaimed) Name() string { return "DistributionClaimed" }

// Unknown is returned for logs whose topic does not belong to the platform
// contracts. Handlers dead-letter them instead of journaling, so the name
// never appears in the event journal.
type Unknown struct {
	Topic common.Hash `json:"topic"`
}

func (Unknown) Name() string { return "Unknown" }

// MarshalPayload serializes a decoded event into the canonical JSON stored in
// the event journal.
func MarshalPayload(ev Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", ev.Name(), err)
	}

	return string(payload), nil
}

// UnmarshalPayload rebuilds a decoded event from a journal row. Replay uses
// this instead of re-fetching logs from the chain.
func UnmarshalPayload(eventName, payload string) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch eventName {
	case "Transfer":
		var e Transfer
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	case "ListingCreated":
		var e ListingCreated
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	case "ListingFilled":
		var e ListingFilled
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	case "ListingCancelled":
		var e ListingCancelled
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	case "DistributionCreated":
		var e DistributionCreated
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	case "DistributionClaimed":
		var e DistributionClaimed
		err = json.Unmarshal([]byte(payload), &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event name %q", eventName)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventName, err)
	}

	return ev, nil
}
