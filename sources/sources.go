package sources

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source describes one external crawl target: where to start, how deep to
// go, and which paths are worth keeping.
type Source struct {
	ID              string
	Type            string
	BaseURL         string
	SeedPaths       []string
	IncludePatterns []string
	ExcludePatterns []string
	// StateFilters narrows the crawl to pages mentioning the given states
	// in their path. Empty means all states.
	StateFilters []string
	MaxDepth     int
	PageLimit    int
}

// Source type names accepted by the job trigger.
const (
	TypeNews      = "news"
	TypeJudgments = "judgments"
	TypeDirectory = "directory"
)

var ErrUnknownSource = errors.New("unknown source type")

// ForName builds the preset source descriptor for a trigger request.
// Base URLs are overridable from the environment so staging runs can
// point at fixtures.
func ForName(name string, states []string, maxPages int) (Source, error) {
	filters := make([]string, 0, len(states))
	for _, s := range states {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			filters = append(filters, strings.ReplaceAll(s, " ", "-"))
		}
	}

	switch name {
	case TypeNews:
		return Source{
			ID:              TypeNews,
			Type:            TypeNews,
			BaseURL:         getEnv("NEWS_SOURCE_URL", "https://www.malaysiakini.com"),
			SeedPaths:       []string{"/news", "/columns"},
			IncludePatterns: []string{"/news/"},
			ExcludePatterns: []string{"/subscribe", "/login", "/advertise"},
			StateFilters:    filters,
			MaxDepth:        2,
			PageLimit:       maxPages,
		}, nil
	case TypeJudgments:
		return Source{
			ID:              TypeJudgments,
			Type:            TypeJudgments,
			BaseURL:         getEnv("JUDGMENTS_SOURCE_URL", "https://ejudgment.kehakiman.gov.my"),
			SeedPaths:       []string{"/portal/judgments"},
			IncludePatterns: []string{"/judgment"},
			ExcludePatterns: []string{"/download"},
			StateFilters:    filters,
			MaxDepth:        3,
			PageLimit:       maxPages,
		}, nil
	case TypeDirectory:
		return Source{
			ID:              TypeDirectory,
			Type:            TypeDirectory,
			BaseURL:         getEnv("DIRECTORY_SOURCE_URL", "https://www.malaysianbar.org.my"),
			SeedPaths:       []string{"/members"},
			IncludePatterns: []string{"/members/", "/news/"},
			ExcludePatterns: []string{"/login"},
			StateFilters:    filters,
			MaxDepth:        2,
			PageLimit:       maxPages,
		}, nil
	default:
		return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
