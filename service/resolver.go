package service

import (
	"context"
	"strings"

	"github.com/amirariff91/lawkita-sub001/models"
)

// CandidateLookup returns registry candidates for a name fragment. It is
// a function type so the resolver stays decoupled from the registry's
// storage technology.
type CandidateLookup func(ctx context.Context, nameFragment string) ([]models.LawyerCandidate, error)

// NameMatcher scores the similarity of two person names in [0.0, 1.0].
// It is a pluggable strategy; TokenOverlapMatcher is the default. The
// heuristic is deliberately cheap and explainable so resolution decisions
// stay auditable by a human reviewer.
type NameMatcher interface {
	Similarity(a, b string) float64
}

// nameParticles are honorifics and patronymic connectors common in
// Malaysian names. They carry no identity signal, so both sides are
// compared without them.
var nameParticles = map[string]bool{
	"bin": true, "binti": true, "binte": true, "a/l": true, "a/p": true,
	"dato": true, "dato'": true, "datuk": true, "datin": true,
	"sri": true, "tun": true, "puan": true,
	"haji": true, "hajjah": true, "dr": true, "dr.": true, "ir": true,
}

// titleBigrams are two-word honorifics whose first word is also a common
// Chinese surname (Tan Sri, Toh Puan). They are dropped only as a pair;
// a standalone Tan or Toh is treated as part of the name.
var titleBigrams = map[string]string{
	"tan": "sri",
	"toh": "puan",
}

// TokenOverlapMatcher scores names by whitespace-token overlap: a token
// pair counts as a hit when the tokens are equal or one contains the
// other (handles spelling variants like Dato'/Dato); similarity is
// hits / max(tokenCount1, tokenCount2) over the particle-free tokens.
type TokenOverlapMatcher struct{}

// Similarity implements NameMatcher.
func (TokenOverlapMatcher) Similarity(a, b string) float64 {
	tokensA := significantTokens(a)
	tokensB := significantTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	hits := 0
	used := make([]bool, len(tokensB))
	for _, ta := range tokensA {
		for j, tb := range tokensB {
			if used[j] {
				continue
			}
			if ta == tb || strings.Contains(ta, tb) || strings.Contains(tb, ta) {
				hits++
				used[j] = true
				break
			}
		}
	}

	max := len(tokensA)
	if len(tokensB) > max {
		max = len(tokensB)
	}
	return float64(hits) / float64(max)
}

// significantTokens lower-cases, splits on whitespace and drops name
// particles and title bigrams.
func significantTokens(name string) []string {
	fields := strings.Fields(strings.ToLower(name))
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		bare := strings.TrimRight(f, ".'")
		if second, ok := titleBigrams[bare]; ok && i+1 < len(fields) &&
			strings.TrimRight(fields[i+1], ".'") == second {
			i++
			continue
		}
		if nameParticles[f] || nameParticles[bare] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Resolver matches extracted lawyer names against the canonical registry.
type Resolver struct {
	matcher   NameMatcher
	threshold float64
}

// NewResolver creates a resolver with the given matcher and acceptance
// threshold. A nil matcher falls back to TokenOverlapMatcher.
func NewResolver(matcher NameMatcher, threshold float64) *Resolver {
	if matcher == nil {
		matcher = TokenOverlapMatcher{}
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Resolver{matcher: matcher, threshold: threshold}
}

// Resolve scores every candidate returned by the lookup and accepts the
// best one only when it clears the threshold; below that the association
// is retained but reported unresolved, with the best score kept for
// audit. Zero candidates is a normal unresolved outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, lawyerName string, lookup CandidateLookup) (models.MatchResult, error) {
	result := models.MatchResult{ExtractedName: lawyerName}

	fragment := lookupFragment(lawyerName)
	if fragment == "" {
		return result, nil
	}

	candidates, err := lookup(ctx, fragment)
	if err != nil {
		return result, err
	}

	var best *models.LawyerCandidate
	bestScore := 0.0
	for i := range candidates {
		score := r.matcher.Similarity(lawyerName, candidates[i].Name)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	result.MatchConfidence = bestScore
	if best != nil && bestScore >= r.threshold {
		id := best.ID
		result.ResolvedEntityID = &id
		result.ResolvedName = best.Name
	}
	return result, nil
}

// lookupFragment picks the most distinctive token of the name to query
// the registry with: the longest particle-free token.
func lookupFragment(name string) string {
	longest := ""
	for _, token := range significantTokens(name) {
		if len(token) > len(longest) {
			longest = token
		}
	}
	return longest
}
