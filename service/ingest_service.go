package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amirariff91/lawkita-sub001/config"
	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/sources"
)

// ErrConflict is returned by CaseStore implementations when a concurrent
// write targeted the same canonical key. The orchestrator re-reads,
// re-merges and re-writes instead of failing the job.
var ErrConflict = errors.New("concurrent write conflict")

// persistMaxAttempts bounds the re-read/re-merge/re-write loop on
// persistence conflicts.
const persistMaxAttempts = 3

// DocumentFetcher is the source-adapter boundary.
type DocumentFetcher interface {
	Fetch(ctx context.Context, src sources.Source, limit int) (*sources.FetchResult, error)
}

// CaseExtractor is the extraction boundary.
type CaseExtractor interface {
	Extract(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error)
}

// CaseStore is the persistence boundary for canonical cases. FindByKey
// returns (nil, nil) when no record exists.
type CaseStore interface {
	FindByKey(ctx context.Context, key string) (*models.MergedCase, error)
	Upsert(ctx context.Context, mc *models.MergedCase) (created bool, err error)
}

// RunStore records pipeline runs for the admin dashboard. Optional;
// ledger failures never fail a run.
type RunStore interface {
	Create(ctx context.Context, run *models.IngestRun) error
	Finish(ctx context.Context, run *models.IngestRun) error
}

// IngestService orchestrates the full pipeline: fetch, filter, extract,
// resolve, merge, gate, persist. Documents are processed concurrently up
// to the configured worker count; only the upsert step is serialized, per
// canonical key.
type IngestService struct {
	fetcher   DocumentFetcher
	filter    *RelevanceFilter
	extractor CaseExtractor
	resolver  *Resolver
	lookup    CandidateLookup
	caseStore CaseStore
	runStore  RunStore
	same      SamePredicate
	cfg       *config.Pipeline

	keyLocks keyedMutex
	log      *logrus.Entry
}

// IngestServiceOption is a functional option for IngestService
type IngestServiceOption func(*IngestService)

// WithFetcher sets the source adapter
func WithFetcher(f DocumentFetcher) IngestServiceOption {
	return func(s *IngestService) { s.fetcher = f }
}

// WithRelevanceFilter sets the relevance pre-filter
func WithRelevanceFilter(f *RelevanceFilter) IngestServiceOption {
	return func(s *IngestService) { s.filter = f }
}

// WithExtractor sets the structured extractor
func WithExtractor(e CaseExtractor) IngestServiceOption {
	return func(s *IngestService) { s.extractor = e }
}

// WithResolver sets the entity resolver
func WithResolver(r *Resolver) IngestServiceOption {
	return func(s *IngestService) { s.resolver = r }
}

// WithCandidateLookup sets the registry lookup used for resolution
func WithCandidateLookup(l CandidateLookup) IngestServiceOption {
	return func(s *IngestService) { s.lookup = l }
}

// WithCaseStore sets the canonical case store
func WithCaseStore(store CaseStore) IngestServiceOption {
	return func(s *IngestService) { s.caseStore = store }
}

// WithRunStore sets the ingest run ledger
func WithRunStore(store RunStore) IngestServiceOption {
	return func(s *IngestService) { s.runStore = store }
}

// WithSamePredicate overrides the same-case grouping heuristic
func WithSamePredicate(p SamePredicate) IngestServiceOption {
	return func(s *IngestService) { s.same = p }
}

// WithConfig sets the pipeline configuration
func WithConfig(cfg *config.Pipeline) IngestServiceOption {
	return func(s *IngestService) { s.cfg = cfg }
}

// NewIngestService creates a new ingestion orchestrator
func NewIngestService(opts ...IngestServiceOption) *IngestService {
	s := &IngestService{
		same: DefaultSamePredicate,
		log:  logrus.WithField("component", "ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunRequest describes one admin-triggered pipeline run.
type RunRequest struct {
	Source   string
	States   []string
	MaxPages int
	DryRun   bool
}

// Run executes one batch through the whole pipeline and returns its
// JobResult. Per-document failures are collected as values in the result,
// capped in count; only configuration errors that prevent any progress
// are returned as an error. With DryRun set every stage runs except the
// final write, and counts are identical to a real run over the same
// input.
func (s *IngestService) Run(ctx context.Context, req RunRequest) (*models.JobResult, error) {
	if s.cfg == nil {
		return nil, errors.New("pipeline config not set")
	}
	if s.fetcher == nil {
		return nil, errors.New("source adapter not set")
	}
	if s.filter == nil {
		return nil, errors.New("relevance filter not set")
	}
	if s.extractor == nil {
		return nil, errors.New("extractor not set")
	}
	if s.resolver == nil {
		return nil, errors.New("resolver not set")
	}
	if s.caseStore == nil {
		return nil, errors.New("case store not set")
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = s.cfg.MaxPagesDefault
	}
	src, err := sources.ForName(req.Source, req.States, maxPages)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	run := &models.IngestRun{
		ID:        uuid.New(),
		Source:    req.Source,
		DryRun:    req.DryRun,
		Status:    models.RunStatusRunning,
		StartedAt: start.UTC(),
	}
	if s.runStore != nil {
		if err := s.runStore.Create(ctx, run); err != nil {
			s.log.WithError(err).Warn("failed to record run start")
		}
	}

	result := &models.JobResult{Errors: []string{}}
	addError := func(msg string) {
		if len(result.Errors) < s.cfg.MaxJobErrors {
			result.Errors = append(result.Errors, msg)
		}
	}

	fetched, err := s.fetcher.Fetch(ctx, src, maxPages)
	if err != nil {
		// Source-unavailable is a recorded outcome, not a job-fatal error.
		addError(fmt.Sprintf("source %s: %v", req.Source, err))
		fetched = &sources.FetchResult{}
	}

	extractions := s.processBatch(ctx, fetched.Documents, result, addError)

	for _, group := range GroupExtractions(extractions, s.same) {
		merged, err := Merge(group)
		if err != nil {
			addError(fmt.Sprintf("merge: %v", err))
			continue
		}
		s.gate(merged)

		created, updated, err := s.persist(ctx, merged, req.DryRun)
		if err != nil {
			addError(fmt.Sprintf("persist %s: %v", merged.CanonicalKey, err))
			continue
		}
		result.Created += created
		result.Updated += updated
	}

	result.DurationMs = time.Since(start).Milliseconds()

	run.Status = models.RunStatusCompleted
	run.Processed = result.TotalProcessed
	run.Created = result.Created
	run.Updated = result.Updated
	run.Skipped = result.Skipped
	run.Errors = models.RunErrors(result.Errors)
	run.DurationMs = result.DurationMs
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	if s.runStore != nil {
		if err := s.runStore.Finish(ctx, run); err != nil {
			s.log.WithError(err).Warn("failed to record run completion")
		}
	}

	return result, nil
}

type docOutcome struct {
	extracted *models.ExtractedCase
	skipped   bool
	err       error
}

// processBatch runs filter, extraction and resolution for every document
// concurrently, bounded by the worker count. Cancellation stops
// dispatching new documents; in-flight work finishes, and only the
// documents actually dispatched are counted.
func (s *IngestService) processBatch(ctx context.Context, docs []models.RawDocument, result *models.JobResult, addError func(string)) []models.ExtractedCase {
	outcomes := make([]docOutcome, len(docs))
	sem := make(chan struct{}, s.cfg.WorkerCount)
	var wg sync.WaitGroup

	dispatched := 0
dispatch:
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		// Acquire the worker slot before spawning, so cancellation stops
		// queued documents from ever entering the pipeline with a dead
		// context.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		wg.Add(1)
		dispatched++
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.processDocument(ctx, docs[i])
		}(i)
	}
	wg.Wait()

	var extractions []models.ExtractedCase
	for i := 0; i < dispatched; i++ {
		result.TotalProcessed++
		o := outcomes[i]
		switch {
		case o.err != nil:
			addError(fmt.Sprintf("document %s: %v", docs[i].URL, o.err))
		case o.skipped:
			result.Skipped++
		case o.extracted != nil:
			extractions = append(extractions, *o.extracted)
		}
	}
	return extractions
}

// processDocument runs one document through filter, extraction and name
// resolution. An unresolved name is a normal outcome, never an error.
func (s *IngestService) processDocument(ctx context.Context, doc models.RawDocument) docOutcome {
	if !s.filter.IsRelevant(doc) {
		return docOutcome{skipped: true}
	}

	extracted, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		return docOutcome{err: err}
	}
	if extracted == nil {
		// Relevant keywords but no specific case reported.
		return docOutcome{skipped: true}
	}

	if s.lookup != nil {
		for i := range extracted.Lawyers {
			match, err := s.resolver.Resolve(ctx, extracted.Lawyers[i].ExtractedName, s.lookup)
			if err != nil {
				s.log.WithError(err).WithField("name", extracted.Lawyers[i].ExtractedName).
					Warn("registry lookup failed, leaving name unresolved")
				continue
			}
			extracted.Lawyers[i].MatchConfidence = match.MatchConfidence
			if match.Resolved() {
				extracted.Lawyers[i].ResolvedLawyerID = match.ResolvedEntityID
				extracted.Lawyers[i].ResolvedName = match.ResolvedName
			}
		}
	}

	return docOutcome{extracted: extracted}
}

// gate converts the merged confidence into a publication state using the
// same bands the rest of the product uses.
func (s *IngestService) gate(mc *models.MergedCase) {
	switch {
	case mc.Confidence >= s.cfg.AutoPublishThreshold:
		mc.Published = true
		mc.ReviewStatus = models.ReviewStatusPublished
	case mc.Confidence >= s.cfg.ReviewThreshold:
		mc.Published = false
		mc.ReviewStatus = models.ReviewStatusPending
	default:
		mc.Published = false
		mc.ReviewStatus = models.ReviewStatusDraft
	}
}

// persist writes one merged case under its per-key lock, re-merging with
// any existing record for the same canonical key. In dry-run mode the
// create/update classification is identical but nothing is written.
func (s *IngestService) persist(ctx context.Context, merged *models.MergedCase, dryRun bool) (created, updated int, err error) {
	unlock := s.keyLocks.lock(merged.CanonicalKey)
	defer unlock()

	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		existing, err := s.caseStore.FindByKey(ctx, merged.CanonicalKey)
		if err != nil {
			return 0, 0, err
		}

		toWrite := merged
		if existing != nil {
			toWrite = MergeExisting(existing, merged)
			s.gate(toWrite)
			// An already-published case is never demoted by a re-merge.
			if existing.Published {
				toWrite.Published = true
				toWrite.ReviewStatus = models.ReviewStatusPublished
			}
		}

		if dryRun {
			if existing != nil {
				return 0, 1, nil
			}
			return 1, 0, nil
		}

		wasCreated, err := s.caseStore.Upsert(ctx, toWrite)
		if err != nil {
			if errors.Is(err, ErrConflict) && attempt < persistMaxAttempts-1 {
				continue
			}
			return 0, 0, err
		}
		if wasCreated {
			return 1, 0, nil
		}
		return 0, 1, nil
	}

	return 0, 0, fmt.Errorf("persist %s: %w after %d attempts", merged.CanonicalKey, ErrConflict, persistMaxAttempts)
}

// keyedMutex serializes writers per canonical case key so two documents
// resolving to the same case cannot race each other into a lost update.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
