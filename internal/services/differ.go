package services

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// maxDiffBytes bounds the diff persisted on a report
const maxDiffBytes = 50 << 10 // 50 KiB

// Diff computes a line-oriented unified diff between the previous and
// current extracted text. Equal inputs return (false, ""). The diff is
// truncated to maxDiffBytes before being returned.
func Diff(previous, current string) (changed bool, diff string) {
	if previous == current {
		return false, ""
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "previous",
		ToFile:   "current",
		Context:  3,
	}

	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil || text == "" {
		// Inputs differ but the diff engine produced nothing usable;
		// report the change without line detail.
		return true, ""
	}

	return true, TruncateDiff(text, maxDiffBytes)
}

// TruncateDiff cuts a diff at a byte budget, on a line boundary when possible
func TruncateDiff(diff string, limit int) string {
	if len(diff) <= limit {
		return diff
	}
	cut := diff[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n... (diff truncated)"
}
