package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// CaseCategory represents the broad legal category of a case
type CaseCategory string

const (
	CategoryCriminal       CaseCategory = "criminal"
	CategoryCivil          CaseCategory = "civil"
	CategorySyariah        CaseCategory = "syariah"
	CategoryCorporate      CaseCategory = "corporate"
	CategoryConstitutional CaseCategory = "constitutional"
	CategoryOther          CaseCategory = "other"
)

// ParseCaseCategory coerces free-form extraction output into the closed
// category set. Unknown values map to "other".
func ParseCaseCategory(raw string) CaseCategory {
	switch CaseCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryCriminal, CategoryCivil, CategorySyariah, CategoryCorporate, CategoryConstitutional:
		return CaseCategory(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return CategoryOther
	}
}

// CaseStatus represents where a case sits in the court process
type CaseStatus string

const (
	StatusOngoing   CaseStatus = "ongoing"
	StatusConcluded CaseStatus = "concluded"
	StatusAppeal    CaseStatus = "appeal"
)

// ParseCaseStatus coerces free-form extraction output into the closed
// status set. Unknown values map to "ongoing" as the neutral default.
func ParseCaseStatus(raw string) CaseStatus {
	switch CaseStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusConcluded:
		return StatusConcluded
	case StatusAppeal:
		return StatusAppeal
	default:
		return StatusOngoing
	}
}

// LawyerRole represents the side a lawyer acted for in a case
type LawyerRole string

const (
	RoleProsecution LawyerRole = "prosecution"
	RoleDefense     LawyerRole = "defense"
	RoleJudge       LawyerRole = "judge"
	RoleOther       LawyerRole = "other"
)

// ParseLawyerRole coerces extraction output into the closed role enum.
// Out-of-enum values become "other"; the association is never dropped.
func ParseLawyerRole(raw string) LawyerRole {
	switch LawyerRole(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleProsecution, RoleDefense, RoleJudge:
		return LawyerRole(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return RoleOther
	}
}

// LawyerAssociation links an extracted lawyer name to a case, with the
// registry resolution attached once the resolver has run.
type LawyerAssociation struct {
	ExtractedName   string     `json:"extracted_name"`
	Role            LawyerRole `json:"role"`
	RoleDescription string     `json:"role_description,omitempty"`
	Confidence      int        `json:"confidence"`

	// Resolution outcome; nil ResolvedLawyerID means unresolved.
	ResolvedLawyerID *uuid.UUID `json:"resolved_lawyer_id,omitempty"`
	ResolvedName     string     `json:"resolved_name,omitempty"`
	MatchConfidence  float64    `json:"match_confidence,omitempty"`
}

// LawyerAssociations is a JSONB column of case lawyers
type LawyerAssociations []LawyerAssociation

// Value implements driver.Valuer for JSONB
func (l LawyerAssociations) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB
func (l *LawyerAssociations) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// KeyDate is a dated event in a case timeline. Dates are ISO yyyy-mm-dd
// strings as produced by the extraction schema.
type KeyDate struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// KeyDates is a JSONB column of case timeline entries
type KeyDates []KeyDate

// Value implements driver.Valuer for JSONB
func (k KeyDates) Value() (driver.Value, error) {
	return json.Marshal(k)
}

// Scan implements sql.Scanner for JSONB
func (k *KeyDates) Scan(value interface{}) error {
	if value == nil {
		*k = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*k = nil
		return nil
	}
	return json.Unmarshal(bytes, k)
}

// ExtractedCase is the structured output of one document extraction.
// It is produced at most once per RawDocument and never mutated; merging
// always builds a new MergedCase.
type ExtractedCase struct {
	CaseName         string             `json:"case_name"`
	AlternativeNames []string           `json:"alternative_names"`
	Category         CaseCategory       `json:"category"`
	Status           CaseStatus         `json:"status"`
	Court            string             `json:"court"`
	Judges           []string           `json:"judges"`
	Lawyers          LawyerAssociations `json:"lawyers"`
	KeyDates         KeyDates           `json:"key_dates"`
	Charges          []string           `json:"charges"`
	Verdict          string             `json:"verdict,omitempty"`
	Summary          string             `json:"summary"`
	Confidence       int                `json:"confidence"`
	SourceDocumentID uuid.UUID          `json:"source_document_id"`
	SourceURL        string             `json:"source_url"`
}

// MatchResult is the outcome of resolving one extracted name against the
// lawyer registry. Recomputed on every resolution run, never persisted on
// its own.
type MatchResult struct {
	ExtractedName    string     `json:"extracted_name"`
	ResolvedEntityID *uuid.UUID `json:"resolved_entity_id"`
	ResolvedName     string     `json:"resolved_name"`
	MatchConfidence  float64    `json:"match_confidence"`
}

// Resolved reports whether the match cleared the acceptance threshold.
func (m MatchResult) Resolved() bool {
	return m.ResolvedEntityID != nil
}

// LawyerCandidate is a registry hit returned by the candidate lookup
type LawyerCandidate struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ReviewStatus is the publication state assigned by the confidence gate
type ReviewStatus string

const (
	ReviewStatusPublished ReviewStatus = "published"
	ReviewStatusPending   ReviewStatus = "pending_review"
	ReviewStatusDraft     ReviewStatus = "draft"
)

// MergedCase is the canonical record built from one or more extractions
// of the same real-world case. This is the unit committed to storage.
type MergedCase struct {
	ID               uuid.UUID          `json:"id"`
	CanonicalKey     string             `json:"canonical_key"`
	CanonicalName    string             `json:"canonical_name"`
	AlternativeNames []string           `json:"alternative_names"`
	Category         CaseCategory       `json:"category"`
	Status           CaseStatus         `json:"status"`
	Court            string             `json:"court"`
	Judges           []string           `json:"judges"`
	Lawyers          LawyerAssociations `json:"lawyers"`
	KeyDates         KeyDates           `json:"key_dates"`
	Charges          []string           `json:"charges"`
	Verdict          string             `json:"verdict,omitempty"`
	Summary          string             `json:"summary"`
	Confidence       int                `json:"confidence"`
	SourceCount      int                `json:"source_count"`
	SourceURLs       []string           `json:"source_urls"`

	Published    bool         `json:"published"`
	ReviewStatus ReviewStatus `json:"review_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalKey normalizes a case name into the identity key used for
// idempotent upserts: lower-cased, punctuation stripped, whitespace
// collapsed. Letters and digits from any script are kept, so names in
// Chinese, Tamil or Jawi get distinct keys rather than collapsing to the
// same empty string. Kept human-readable so merge decisions stay
// auditable; a name with no letters or digits at all falls back to a
// hash of the raw name so it still cannot collide with another case.
func CanonicalKey(name string) string {
	trimmed := strings.TrimSpace(name)
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(trimmed) {
		switch {
		// Marks are kept for scripts that write vowels as combining
		// characters (Tamil, Jawi harakat).
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '/':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	key := strings.TrimSpace(b.String())
	if key == "" && trimmed != "" {
		sum := sha256.Sum256([]byte(trimmed))
		return hex.EncodeToString(sum[:8])
	}
	return key
}
