package config

import "fmt"

// Finality selects which chain head the reconciliation loop follows.
type Finality string

const (
	// FinalityFinalized uses the finalized block tag (highest level of finality)
	FinalityFinalized Finality = "finalized"

	// FinalitySafe uses the safe block tag (medium level of finality)
	FinalitySafe Finality = "safe"

	// FinalityLatest uses the latest block tag (no finality guarantees);
	// the confirmation depth is the only reorg protection in this mode
	FinalityLatest Finality = "latest"
)

func (f Finality) String() string {
	return string(f)
}

// IsValid checks if the Finality value is valid.
func (f Finality) IsValid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// ParseFinality parses a string into a Finality value.
func ParseFinality(s string) (Finality, error) {
	f := Finality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid finality: %s (must be one of: finalized, safe, latest)", s)
	}
	return f, nil
}
