// Package vectorstore defines the namespace-scoped nearest-neighbour index
// that holds one partition per document.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
)

var ErrEmptyNamespace = errors.New("vector namespace is empty")

// Record is one embedded passage. Records are written once and never
// updated in place.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]interface{}
}

// Match is a search hit ordered by Score, highest first.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
	Score    float32
}

// Store is implemented by every index backend. Search must only ever
// return records written to the same namespace.
type Store interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Search(ctx context.Context, namespace string, vector []float32, k int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Namespace is the partition name holding a document's passages.
func Namespace(documentID uint) string {
	return strconv.FormatUint(uint64(documentID), 10)
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// TopK sorts matches by descending score, ties by id, and keeps k.
func TopK(matches []Match, k int) []Match {
	if k <= 0 || len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
