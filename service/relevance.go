package service

import (
	"strings"

	"github.com/amirariff91/lawkita-sub001/models"
)

// legalKeywords is the bilingual lexical signal set for legal-case
// coverage: English terms plus their Bahasa Malaysia equivalents.
var legalKeywords = []string{
	// English
	"court", "trial", "lawyer", "judge", "verdict", "charged",
	"sentence", "appeal", "prosecution", "accused", "plaintiff",
	"defendant", "judgment",
	// Bahasa Malaysia
	"mahkamah", "perbicaraan", "peguam", "hakim", "keputusan",
	"didakwa", "hukuman", "rayuan", "pendakwaan", "tertuduh",
	"plaintif", "defendan", "penghakiman",
}

// RelevanceFilter is a cheap local pre-filter that decides whether a
// document is worth the cost of a full extraction call. It is biased
// toward false positives: a wasted extraction call is cheaper than a
// missed case.
type RelevanceFilter struct {
	minHits int
}

// NewRelevanceFilter creates a filter that requires at least minHits
// keyword occurrences across title and content.
func NewRelevanceFilter(minHits int) *RelevanceFilter {
	if minHits <= 0 {
		minHits = 3
	}
	return &RelevanceFilter{minHits: minHits}
}

// Score counts legal keyword occurrences in the document's title and
// content.
func (f *RelevanceFilter) Score(doc models.RawDocument) int {
	text := strings.ToLower(doc.Title + " " + doc.Content)
	hits := 0
	for _, kw := range legalKeywords {
		hits += strings.Count(text, kw)
	}
	return hits
}

// IsRelevant reports whether the document clears the keyword threshold.
// Pure function, no I/O.
func (f *RelevanceFilter) IsRelevant(doc models.RawDocument) bool {
	return f.Score(doc) >= f.minHits
}
