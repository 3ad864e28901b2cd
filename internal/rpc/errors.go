package rpc

import (
	"errors"
	"fmt"
	"regexp"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/estatechain/indexer/internal/common"
)

var (
	tooManyResultsRe = regexp.MustCompile(`(?i)(query returned more than \d+ results|log response size exceeded)`)
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// TooManyResultsError reports that the provider refused an eth_getLogs range
// because it matched more logs than allowed. Some providers suggest a smaller
// range in the error payload, e.g. "Query returned more than 20000 results.
// Try with this block range [0x7dfd25, 0x7e0fcc]."
type TooManyResultsError struct {
	Message       string
	SuggestedFrom uint64
	SuggestedTo   uint64
	HasSuggestion bool
}

func (e *TooManyResultsError) Error() string {
	return fmt.Sprintf("too many results: %s", e.Message)
}

// AsTooManyResults inspects an eth_getLogs failure and extracts the provider's
// range rejection, including the suggested block range when one is present.
func AsTooManyResults(err error) (*TooManyResultsError, bool) {
	if err == nil {
		return nil, false
	}

	msg := ""

	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		msg = fmt.Sprintf("%v", dataErr.ErrorData())
	}

	if !tooManyResultsRe.MatchString(msg) {
		// Some providers put the message on the error itself.
		msg = err.Error()
		if !tooManyResultsRe.MatchString(msg) {
			return nil, false
		}
	}

	result := &TooManyResultsError{Message: msg}

	if from, to, ok := parseSuggestedRange(msg); ok {
		result.SuggestedFrom = from
		result.SuggestedTo = to
		result.HasSuggestion = true
	}

	return result, true
}

// parseSuggestedRange extracts the hex block range in square brackets from a
// range rejection message.
func parseSuggestedRange(msg string) (fromBlock, toBlock uint64, ok bool) {
	matches := suggestedRangeRe.FindStringSubmatch(msg)

	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(&matches[1])
	to, err2 := common.ParseUint64orHex(&matches[2])

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}
