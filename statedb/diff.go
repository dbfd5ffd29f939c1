package statedb

import (
	"encoding/json"
	"fmt"

	"github.com/nsf/jsondiff"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// DiffJSON compares two JSON documents. It reports whether they differ and, if so, an
// ASCII rendering of the delta.
func DiffJSON(expected, actual []byte, coloring bool) (bool, string, error) {
	differ := gojsondiff.New()
	delta, err := differ.Compare(expected, actual)
	if err != nil {
		return false, "", fmt.Errorf("error diffing JSON: %w", err)
	}
	if !delta.Modified() {
		return false, "", nil
	}
	// unmarshal for the formatter
	var leftObj interface{}
	if err := json.Unmarshal(expected, &leftObj); err != nil {
		return true, "", err
	}
	cfg := formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	}
	asciiDiff, err := formatter.NewAsciiFormatter(leftObj, cfg).Format(delta)
	if err != nil {
		return true, "", fmt.Errorf("error formatting diff: %w", err)
	}
	return true, asciiDiff, nil
}

// Verify diffs the state diff against an expected JSON rendering of one.
func (d *StateDiff) Verify(expected []byte) (bool, string, error) {
	actual, err := json.Marshal(d)
	if err != nil {
		return false, "", err
	}
	return DiffJSON(expected, actual, false)
}

// VerifySubset reports whether every entry of expected also appears in the state diff,
// ignoring extra entries. The returned string renders the mismatch.
func (d *StateDiff) VerifySubset(expected []byte) (bool, string, error) {
	actual, err := json.Marshal(d)
	if err != nil {
		return false, "", err
	}
	opts := jsondiff.DefaultConsoleOptions()
	switch difference, rendered := jsondiff.Compare(actual, expected, &opts); difference {
	case jsondiff.FullMatch, jsondiff.SupersetMatch:
		return true, "", nil
	case jsondiff.NoMatch:
		return false, rendered, nil
	default:
		return false, "", fmt.Errorf("invalid expected state diff JSON: %s", difference)
	}
}
