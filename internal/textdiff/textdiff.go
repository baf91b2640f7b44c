// Package textdiff produces the canonical diff and hash forms used across
// proposals and the audit ledger.
//
// A diff here is a pure function of the two byte slices: headers carry only
// the artifact path, never revisions or timestamps, so the diff frozen at
// proposal creation is byte-identical to one recomputed between revisions
// whose contents match.
package textdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the fixed unified-diff context width.
const ContextLines = 3

// Unified renders a whitespace-normalized unified diff of from -> to for the
// given artifact path. Identical inputs always yield byte-identical output.
func Unified(path string, from, to []byte) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        normalize(from),
		B:        normalize(to),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  ContextLines,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render unified diff for %s: %w", path, err)
	}
	return out, nil
}

// Hash returns the hex sha256 of content, the form stored on audit events in
// place of raw bytes.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashString hashes an opaque string, used for prompt hashes.
func HashString(s string) string {
	return Hash([]byte(s))
}

// normalize splits content into lines with CRLF folded to LF and trailing
// line whitespace removed. Every line keeps its terminating newline so the
// diff is line-accurate.
func normalize(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	raw := strings.Split(string(content), "\n")
	// A trailing newline produces one empty trailing element; drop it so the
	// line count matches the document.
	if last := len(raw) - 1; last >= 0 && raw[last] == "" {
		raw = raw[:last]
	}
	lines := make([]string, len(raw))
	for i, line := range raw {
		lines[i] = strings.TrimRight(line, " \t\r") + "\n"
	}
	return lines
}
