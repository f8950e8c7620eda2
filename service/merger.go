package service

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/amirariff91/lawkita-sub001/models"
)

// ErrNoExtractions signals a precondition violation: merging an empty
// list is a programming error, distinct from "no relevant case found".
var ErrNoExtractions = errors.New("merge requires at least one extraction")

// sourceBoost is the per-source confidence increment for corroborated
// cases, capped at 100 to avoid runaway inflation from many low-quality
// sources.
const sourceBoost = 5

// SamePredicate decides whether two extractions describe the same
// real-world case. Pluggable so the grouping heuristic can be tightened
// without touching the merge control flow.
type SamePredicate func(a, b *models.ExtractedCase) bool

// DefaultSamePredicate matches on exact or substring case-name overlap
// across caseName and alternativeNames, the conservative default.
func DefaultSamePredicate(a, b *models.ExtractedCase) bool {
	for _, na := range caseNames(a) {
		for _, nb := range caseNames(b) {
			if na == nb || strings.Contains(na, nb) || strings.Contains(nb, na) {
				return true
			}
		}
	}
	return false
}

func caseNames(c *models.ExtractedCase) []string {
	names := make([]string, 0, 1+len(c.AlternativeNames))
	if key := models.CanonicalKey(c.CaseName); key != "" {
		names = append(names, key)
	}
	for _, alt := range c.AlternativeNames {
		if key := models.CanonicalKey(alt); key != "" {
			names = append(names, key)
		}
	}
	return names
}

// GroupExtractions partitions a batch of extractions into same-case
// groups using the predicate. Grouping is transitive within a batch:
// an extraction joins the first group any member of which it matches.
func GroupExtractions(extractions []models.ExtractedCase, same SamePredicate) [][]models.ExtractedCase {
	if same == nil {
		same = DefaultSamePredicate
	}

	var groups [][]models.ExtractedCase
	for i := range extractions {
		placed := false
		for g := range groups {
			for m := range groups[g] {
				if same(&extractions[i], &groups[g][m]) {
					groups[g] = append(groups[g], extractions[i])
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, []models.ExtractedCase{extractions[i]})
		}
	}
	return groups
}

// Merge combines extractions already grouped as one real-world case into
// a single canonical record. The highest-confidence extraction seeds the
// base; corroboration across sources boosts confidence by sourceBoost per
// extraction, capped at 100. A single-element input is converted without
// a boost.
func Merge(extractions []models.ExtractedCase) (*models.MergedCase, error) {
	if len(extractions) == 0 {
		return nil, ErrNoExtractions
	}

	sorted := make([]models.ExtractedCase, len(extractions))
	copy(sorted, extractions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	base := sorted[0]
	merged := &models.MergedCase{
		ID:            uuid.New(),
		CanonicalName: base.CaseName,
		CanonicalKey:  models.CanonicalKey(base.CaseName),
		Category:      base.Category,
		Status:        base.Status,
		Court:         base.Court,
		Verdict:       base.Verdict,
		Summary:       base.Summary,
		Confidence:    base.Confidence,
		SourceCount:   len(sorted),
	}

	// Alternative names accumulate every name except the base one.
	altSeen := map[string]bool{models.CanonicalKey(base.CaseName): true}
	for _, ec := range sorted {
		for _, name := range append([]string{ec.CaseName}, ec.AlternativeNames...) {
			key := models.CanonicalKey(name)
			if key == "" || altSeen[key] {
				continue
			}
			altSeen[key] = true
			merged.AlternativeNames = append(merged.AlternativeNames, name)
		}
	}

	// Lawyers dedupe by lower-cased name; the first occurrence wins so a
	// later duplicate mention never overwrites an already-assigned role.
	lawyerSeen := make(map[string]bool)
	for _, ec := range sorted {
		for _, l := range ec.Lawyers {
			key := strings.ToLower(strings.TrimSpace(l.ExtractedName))
			if key == "" || lawyerSeen[key] {
				continue
			}
			lawyerSeen[key] = true
			merged.Lawyers = append(merged.Lawyers, l)
		}
	}

	merged.Judges = unionStrings(nil, collect(sorted, func(ec models.ExtractedCase) []string { return ec.Judges }))
	merged.Charges = unionStrings(nil, collect(sorted, func(ec models.ExtractedCase) []string { return ec.Charges }))
	merged.KeyDates = mergeKeyDates(sorted)
	merged.SourceURLs = unionStrings(nil, collect(sorted, func(ec models.ExtractedCase) []string {
		if ec.SourceURL == "" {
			return nil
		}
		return []string{ec.SourceURL}
	}))

	// Fill gaps the base extraction left empty.
	for _, ec := range sorted[1:] {
		if merged.Court == "" {
			merged.Court = ec.Court
		}
		if merged.Verdict == "" {
			merged.Verdict = ec.Verdict
		}
		if merged.Summary == "" {
			merged.Summary = ec.Summary
		}
	}

	if len(sorted) > 1 {
		merged.Confidence = capConfidence(base.Confidence + sourceBoost*len(sorted))
	}

	return merged, nil
}

// MergeExisting folds a freshly merged case into an already persisted
// record with the same canonical key: sets union, first-seen lawyer
// associations from the existing record are preserved, and confidence is
// monotonically non-decreasing. The corroboration boost applies only when
// the incoming record contributes a source URL the existing record has
// not seen; re-running the same batch is evidence of nothing and must not
// walk a case across a gate band.
func MergeExisting(existing, incoming *models.MergedCase) *models.MergedCase {
	out := *existing

	urlSeen := make(map[string]bool, len(existing.SourceURLs))
	for _, u := range existing.SourceURLs {
		urlSeen[strings.ToLower(strings.TrimSpace(u))] = true
	}
	newSources := 0
	for _, u := range incoming.SourceURLs {
		key := strings.ToLower(strings.TrimSpace(u))
		if key == "" || urlSeen[key] {
			continue
		}
		urlSeen[key] = true
		newSources++
	}

	altSeen := map[string]bool{models.CanonicalKey(existing.CanonicalName): true}
	for _, name := range existing.AlternativeNames {
		altSeen[models.CanonicalKey(name)] = true
	}
	for _, name := range append([]string{incoming.CanonicalName}, incoming.AlternativeNames...) {
		key := models.CanonicalKey(name)
		if key == "" || altSeen[key] {
			continue
		}
		altSeen[key] = true
		out.AlternativeNames = append(out.AlternativeNames, name)
	}

	lawyerSeen := make(map[string]bool)
	for _, l := range existing.Lawyers {
		lawyerSeen[strings.ToLower(strings.TrimSpace(l.ExtractedName))] = true
	}
	for _, l := range incoming.Lawyers {
		key := strings.ToLower(strings.TrimSpace(l.ExtractedName))
		if key == "" || lawyerSeen[key] {
			continue
		}
		lawyerSeen[key] = true
		out.Lawyers = append(out.Lawyers, l)
	}

	out.Judges = unionStrings(existing.Judges, incoming.Judges)
	out.Charges = unionStrings(existing.Charges, incoming.Charges)
	out.SourceURLs = unionStrings(existing.SourceURLs, incoming.SourceURLs)
	out.KeyDates = dedupeKeyDates(append(append(models.KeyDates{}, existing.KeyDates...), incoming.KeyDates...))

	// Fresher reporting can progress the case state but never blank it.
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.Verdict != "" {
		out.Verdict = incoming.Verdict
	}
	if out.Court == "" {
		out.Court = incoming.Court
	}
	if out.Summary == "" {
		out.Summary = incoming.Summary
	}

	higher := existing.Confidence
	if incoming.Confidence > higher {
		higher = incoming.Confidence
	}
	out.Confidence = higher
	out.SourceCount = existing.SourceCount
	if newSources > 0 {
		out.Confidence = capConfidence(higher + sourceBoost)
		out.SourceCount = existing.SourceCount + newSources
	}

	return &out
}

func mergeKeyDates(sorted []models.ExtractedCase) models.KeyDates {
	var all models.KeyDates
	for _, ec := range sorted {
		all = append(all, ec.KeyDates...)
	}
	return dedupeKeyDates(all)
}

// dedupeKeyDates dedupes by date plus the first 20 characters of the
// event and returns the list sorted chronologically ascending. Dates are
// ISO strings, so lexicographic order is chronological.
func dedupeKeyDates(dates models.KeyDates) models.KeyDates {
	seen := make(map[string]bool)
	out := make(models.KeyDates, 0, len(dates))
	for _, kd := range dates {
		prefix := kd.Event
		if len(prefix) > 20 {
			prefix = prefix[:20]
		}
		key := kd.Date + "|" + strings.ToLower(prefix)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kd)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) == 0 {
		return nil
	}
	return out
}

func collect(cases []models.ExtractedCase, pick func(models.ExtractedCase) []string) []string {
	var all []string
	for _, ec := range cases {
		all = append(all, pick(ec)...)
	}
	return all
}

// unionStrings unions two lists preserving first-seen order, comparing
// case-insensitively.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func capConfidence(v int) int {
	if v > 100 {
		return 100
	}
	return v
}
