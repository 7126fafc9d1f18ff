package agentic

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// sourceWeights encode relative reliability of evidence origins: graph edges
// are curated, vector hits are similarity-ranked text, reprocessing output is
// a best-effort re-analysis.
var sourceWeights = map[SourceType]float64{
	SourceGraphStore:   1.0,
	SourceVectorStore:  0.9,
	SourceReprocessing: 0.8,
}

// SourceWeight returns the reliability weight for a source type.
func SourceWeight(source SourceType) float64 {
	if w, ok := sourceWeights[source]; ok {
		return w
	}
	return 0.8
}

// FuseEvidence deduplicates evidence by content signature, keeping the
// highest-confidence copy of each duplicate group, and orders the result by
// source-weighted score descending. The input is left untouched.
func FuseEvidence(items []Evidence) []Evidence {
	best := map[string]Evidence{}
	order := []string{}
	for _, item := range items {
		sig := contentSignature(item)
		existing, ok := best[sig]
		if !ok {
			best[sig] = item
			order = append(order, sig)
			continue
		}
		if item.Confidence > existing.Confidence {
			best[sig] = item
		}
	}

	fused := make([]Evidence, 0, len(best))
	for _, sig := range order {
		fused = append(fused, best[sig])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		si := fused[i].Confidence * SourceWeight(fused[i].SourceType)
		sj := fused[j].Confidence * SourceWeight(fused[j].SourceType)
		if si != sj {
			return si > sj
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

// DiversityBonus rewards evidence drawn from multiple sources, capped so that
// diversity alone never dominates the confidence blend.
func DiversityBonus(items []Evidence) float64 {
	seen := map[SourceType]bool{}
	for _, item := range items {
		seen[item.SourceType] = true
	}
	return minFloat(float64(len(seen))*0.1, 0.3)
}

// contentSignature keys duplicate detection on the normalised first 200
// characters of content plus the source type, matching the dedup granularity
// the reflector expects.
func contentSignature(e Evidence) string {
	content := strings.ToLower(strings.TrimSpace(e.Content))
	if len(content) > 200 {
		content = content[:200]
	}
	sum := sha1.Sum([]byte(string(e.SourceType) + "|" + content))
	return hex.EncodeToString(sum[:])
}
