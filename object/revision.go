package object

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RevID identifies one revision of one object: "<gen>-<hex-hash>".
type RevID string

// NewRevID computes the revision identifier for a value hash (nil for a
// deletion) together with its sorted parent revision IDs, per spec.md
// §4.1: rev_id hashes the tuple (value_hash, sorted(parents)) and prefixes
// it with "gen-". Origin revisions pass an empty parents slice.
func NewRevID(gen int, valueHash Hash, parents []RevID) (RevID, error) {
	if gen < 1 {
		return "", fmt.Errorf("object: gen must be positive, got %d", gen)
	}
	sortedParents := append([]RevID(nil), parents...)
	sort.Slice(sortedParents, func(i, j int) bool { return sortedParents[i] < sortedParents[j] })

	tuple := map[string]any{
		"p": revIDsToAny(sortedParents),
	}
	if valueHash != nil {
		tuple["v"] = valueHash.String()
	} else {
		tuple["v"] = nil
	}

	data, err := CanonicalJSON(tuple)
	if err != nil {
		return "", err
	}
	hash := Sum(data)
	return RevID(strconv.Itoa(gen) + "-" + hash.String()), nil
}

func revIDsToAny(ids []RevID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Gen returns the generation component of the revision ID.
func (r RevID) Gen() int {
	idx := strings.IndexByte(string(r), '-')
	if idx < 0 {
		return 0
	}
	gen, err := strconv.Atoi(string(r)[:idx])
	if err != nil {
		return 0
	}
	return gen
}

// HashPart returns the hex-hash component of the revision ID, the part
// used by the tie-break comparator.
func (r RevID) HashPart() string {
	idx := strings.IndexByte(string(r), '-')
	if idx < 0 {
		return ""
	}
	return string(r)[idx+1:]
}

// Valid reports whether the revision ID is well-formed ("<gen>-<hex>").
func (r RevID) Valid() bool {
	idx := strings.IndexByte(string(r), '-')
	if idx <= 0 {
		return false
	}
	gen, err := strconv.Atoi(string(r)[:idx])
	if err != nil || gen < 1 {
		return false
	}
	return len(string(r)[idx+1:]) > 0
}

// CompareRevisions implements the winner tie-break from spec.md §4.4:
// prefer the highest gen, then the lexicographically largest hash portion.
// Returns a positive number if a should win over b, negative if b should
// win over a, and zero only when a == b.
func CompareRevisions(a, b RevID) int {
	if a == b {
		return 0
	}
	ga, gb := a.Gen(), b.Gen()
	if ga != gb {
		return ga - gb
	}
	return strings.Compare(a.HashPart(), b.HashPart())
}
