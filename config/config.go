package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Pipeline holds every tunable of the ingestion pipeline. Concurrency
// bounds and thresholds trade cost against throughput, so all of them
// come from the environment rather than constants.
type Pipeline struct {
	WorkerCount        int
	ExtractConcurrency int
	ExtractMaxAttempts int
	ExtractBackoff     time.Duration
	ExtractTimeout     time.Duration
	ContentCharBudget  int

	FetchTimeout    time.Duration
	MaxPagesDefault int

	RelevanceMinHits int
	MatchThreshold   float64

	AutoPublishThreshold int
	ReviewThreshold      int
	MaxJobErrors         int
}

// LoadPipeline builds a Pipeline config from environment variables.
func LoadPipeline() (*Pipeline, error) {
	c := &Pipeline{
		WorkerCount:        getInt("INGEST_WORKER_COUNT", 4),
		ExtractConcurrency: getInt("INGEST_EXTRACT_CONCURRENCY", 2),
		ExtractMaxAttempts: getInt("INGEST_EXTRACT_MAX_ATTEMPTS", 3),
		ExtractBackoff:     getDuration("INGEST_EXTRACT_BACKOFF", "1s"),
		ExtractTimeout:     getDuration("INGEST_EXTRACT_TIMEOUT", "90s"),
		ContentCharBudget:  getInt("INGEST_CONTENT_CHAR_BUDGET", 12000),

		FetchTimeout:    getDuration("INGEST_FETCH_TIMEOUT", "20s"),
		MaxPagesDefault: getInt("INGEST_MAX_PAGES", 30),

		RelevanceMinHits: getInt("INGEST_RELEVANCE_MIN_HITS", 3),
		MatchThreshold:   getFloat("INGEST_MATCH_THRESHOLD", 0.7),

		AutoPublishThreshold: getInt("INGEST_AUTO_PUBLISH_THRESHOLD", 90),
		ReviewThreshold:      getInt("INGEST_REVIEW_THRESHOLD", 70),
		MaxJobErrors:         getInt("INGEST_MAX_JOB_ERRORS", 20),
	}

	if c.WorkerCount <= 0 {
		return nil, fmt.Errorf("INGEST_WORKER_COUNT must be positive")
	}
	if c.ExtractConcurrency <= 0 {
		return nil, fmt.Errorf("INGEST_EXTRACT_CONCURRENCY must be positive")
	}
	if c.ExtractMaxAttempts <= 0 {
		return nil, fmt.Errorf("INGEST_EXTRACT_MAX_ATTEMPTS must be positive")
	}
	if c.ContentCharBudget <= 0 {
		return nil, fmt.Errorf("INGEST_CONTENT_CHAR_BUDGET must be positive")
	}
	if c.MaxPagesDefault <= 0 {
		return nil, fmt.Errorf("INGEST_MAX_PAGES must be positive")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return nil, fmt.Errorf("INGEST_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.ReviewThreshold > c.AutoPublishThreshold {
		return nil, fmt.Errorf("INGEST_REVIEW_THRESHOLD cannot exceed INGEST_AUTO_PUBLISH_THRESHOLD")
	}
	if c.MaxJobErrors <= 0 {
		return nil, fmt.Errorf("INGEST_MAX_JOB_ERRORS must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}
