package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/amirariff91/lawkita-sub001/config"
	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/service"
	"github.com/amirariff91/lawkita-sub001/sources"
)

// relevantContent clears the default keyword threshold.
const relevantContent = "Mahkamah Tinggi memulakan perbicaraan; peguam dan hakim hadir untuk keputusan."

type fetcherFunc func(ctx context.Context, src sources.Source, limit int) (*sources.FetchResult, error)

func (f fetcherFunc) Fetch(ctx context.Context, src sources.Source, limit int) (*sources.FetchResult, error) {
	return f(ctx, src, limit)
}

type extractorFunc func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error)

func (f extractorFunc) Extract(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
	return f(ctx, doc)
}

// memCaseStore is an in-memory CaseStore. conflicts makes the next N
// upserts fail with ErrConflict to exercise the retry path.
type memCaseStore struct {
	mu        sync.Mutex
	cases     map[string]*models.MergedCase
	upserts   int
	conflicts int
}

func newMemCaseStore() *memCaseStore {
	return &memCaseStore{cases: make(map[string]*models.MergedCase)}
}

func (s *memCaseStore) FindByKey(ctx context.Context, key string) (*models.MergedCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.cases[key]
	if !ok {
		return nil, nil
	}
	clone := *mc
	return &clone, nil
}

func (s *memCaseStore) Upsert(ctx context.Context, mc *models.MergedCase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return false, service.ErrConflict
	}
	s.upserts++
	_, existed := s.cases[mc.CanonicalKey]
	clone := *mc
	s.cases[mc.CanonicalKey] = &clone
	return !existed, nil
}

func (s *memCaseStore) get(key string) *models.MergedCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[key]
}

type memRunStore struct {
	mu       sync.Mutex
	created  []*models.IngestRun
	finished []*models.IngestRun
}

func (s *memRunStore) Create(ctx context.Context, run *models.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.created = append(s.created, &clone)
	return nil
}

func (s *memRunStore) Finish(ctx context.Context, run *models.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.finished = append(s.finished, &clone)
	return nil
}

func docsWithContent(n int) []models.RawDocument {
	docs := make([]models.RawDocument, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, models.RawDocument{
			ID:       uuid.New(),
			SourceID: "news",
			URL:      fmt.Sprintf("https://example.com/news/%c", 'a'+i),
			Title:    "Trial coverage",
			Content:  relevantContent,
		})
	}
	return docs
}

func staticFetcher(docs []models.RawDocument) fetcherFunc {
	return func(ctx context.Context, src sources.Source, limit int) (*sources.FetchResult, error) {
		return &sources.FetchResult{Documents: docs}, nil
	}
}

func caseWithConfidence(name string, confidence int) *models.ExtractedCase {
	return &models.ExtractedCase{
		CaseName:   name,
		Category:   models.CategoryCriminal,
		Status:     models.StatusOngoing,
		Confidence: confidence,
	}
}

func newTestService(cfg *config.Pipeline, fetch fetcherFunc, extract extractorFunc, store *memCaseStore, extra ...service.IngestServiceOption) *service.IngestService {
	opts := append([]service.IngestServiceOption{
		service.WithConfig(cfg),
		service.WithFetcher(fetch),
		service.WithRelevanceFilter(service.NewRelevanceFilter(cfg.RelevanceMinHits)),
		service.WithExtractor(extract),
		service.WithResolver(service.NewResolver(nil, cfg.MatchThreshold)),
		service.WithCaseStore(store),
	}, extra...)
	return service.NewIngestService(opts...)
}

func TestRunGateBands(t *testing.T) {
	tests := []struct {
		confidence int
		published  bool
		status     models.ReviewStatus
	}{
		{confidence: 95, published: true, status: models.ReviewStatusPublished},
		{confidence: 90, published: true, status: models.ReviewStatusPublished},
		{confidence: 89, published: false, status: models.ReviewStatusPending},
		{confidence: 70, published: false, status: models.ReviewStatusPending},
		{confidence: 69, published: false, status: models.ReviewStatusDraft},
		{confidence: 10, published: false, status: models.ReviewStatusDraft},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("confidence_%d", tt.confidence), func(t *testing.T) {
			store := newMemCaseStore()
			svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
				func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
					return caseWithConfidence("PP v Ahmad Zaki", tt.confidence), nil
				}, store)

			result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
			require.NoError(t, err)
			require.Equal(t, 1, result.Created)

			stored := store.get("pp v ahmad zaki")
			require.NotNil(t, stored)
			require.Equal(t, tt.published, stored.Published)
			require.Equal(t, tt.status, stored.ReviewStatus)
		})
	}
}

func TestRunCollectsPerDocumentErrors(t *testing.T) {
	docs := docsWithContent(10)
	failURL := docs[4].URL
	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(docs),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			if doc.URL == failURL {
				return nil, errors.New("model unavailable")
			}
			return caseWithConfidence("Case "+doc.URL, 80), nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 10, result.TotalProcessed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], failURL)
	require.Equal(t, 9, result.Created)
}

func TestRunErrorListCapped(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxJobErrors = 2
	store := newMemCaseStore()
	svc := newTestService(cfg, staticFetcher(docsWithContent(5)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return nil, errors.New("model unavailable")
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 5, result.TotalProcessed)
	require.Len(t, result.Errors, 2)
}

func TestRunSkipsIrrelevantDocuments(t *testing.T) {
	docs := docsWithContent(1)
	docs = append(docs, models.RawDocument{
		ID:      uuid.New(),
		URL:     "https://example.com/news/sports",
		Title:   "Match report",
		Content: "Three goals in the second half.",
	})
	store := newMemCaseStore()
	extractorCalls := 0
	svc := newTestService(testPipelineConfig(), staticFetcher(docs),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			extractorCalls++
			return caseWithConfidence("PP v Ahmad Zaki", 80), nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalProcessed)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, extractorCalls)
}

func TestRunSkipsNoCaseDocuments(t *testing.T) {
	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return nil, nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 0, result.Created)
}

func TestRunMergesSameCaseAcrossDocuments(t *testing.T) {
	docs := docsWithContent(2)
	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(docs),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			confidence := 70
			if doc.URL == docs[1].URL {
				confidence = 60
			}
			return caseWithConfidence("PP v Ahmad Zaki", confidence), nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	stored := store.get("pp v ahmad zaki")
	require.NotNil(t, stored)
	// Two corroborating sources boost the base confidence.
	require.Equal(t, 80, stored.Confidence)
	require.Equal(t, 2, stored.SourceCount)
	require.Equal(t, models.ReviewStatusPending, stored.ReviewStatus)
}

func TestRunKeepsNonLatinCasesDistinct(t *testing.T) {
	docs := docsWithContent(2)
	names := map[string]string{
		docs[0].URL: "公诉人 诉 张伟",
		docs[1].URL: "検察官 対 田中",
	}
	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(docs),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return caseWithConfidence(names[doc.URL], 80), nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)
	require.Equal(t, 0, result.Updated)
	require.NotNil(t, store.get(models.CanonicalKey("公诉人 诉 张伟")))
	require.NotNil(t, store.get(models.CanonicalKey("検察官 対 田中")))
}

func TestRunDryRunWritesNothing(t *testing.T) {
	docs := docsWithContent(2)
	extract := func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
		return caseWithConfidence("PP v Ahmad Zaki", 92), nil
	}

	dryStore := newMemCaseStore()
	drySvc := newTestService(testPipelineConfig(), staticFetcher(docs), extract, dryStore)
	dry, err := drySvc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 0, dryStore.upserts)

	realStore := newMemCaseStore()
	realSvc := newTestService(testPipelineConfig(), staticFetcher(docs), extract, realStore)
	actual, err := realSvc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	// Dry-run counts are identical to a real run over the same input.
	require.Equal(t, actual.TotalProcessed, dry.TotalProcessed)
	require.Equal(t, actual.Created, dry.Created)
	require.Equal(t, actual.Updated, dry.Updated)
	require.Equal(t, actual.Skipped, dry.Skipped)
	require.Equal(t, actual.Errors, dry.Errors)
}

func TestRunSecondRunUpdates(t *testing.T) {
	docs := docsWithContent(1)
	store := newMemCaseStore()
	extract := extractorFunc(func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
		ec := caseWithConfidence("PP v Ahmad Zaki", 88)
		ec.SourceURL = doc.URL
		return ec, nil
	})
	svc := newTestService(testPipelineConfig(), staticFetcher(docs), extract, store)

	first, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)
	require.Equal(t, 0, first.Updated)
	firstConfidence := store.get("pp v ahmad zaki").Confidence

	second, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 1, second.Updated)

	// The same document seen again is not corroboration: the record is
	// refreshed but confidence and source count stay put.
	stored := store.get("pp v ahmad zaki")
	require.Equal(t, firstConfidence, stored.Confidence)
	require.Equal(t, 1, stored.SourceCount)
}

func TestRunRepeatedIdenticalBatchHoldsGateBand(t *testing.T) {
	docs := docsWithContent(1)
	store := newMemCaseStore()
	extract := extractorFunc(func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
		ec := caseWithConfidence("PP v Ahmad Zaki", 65)
		ec.SourceURL = doc.URL
		return ec, nil
	})
	svc := newTestService(testPipelineConfig(), staticFetcher(docs), extract, store)

	for i := 0; i < 8; i++ {
		_, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
		require.NoError(t, err)
	}

	// Re-running the same batch must never walk a draft into publication.
	stored := store.get("pp v ahmad zaki")
	require.Equal(t, 65, stored.Confidence)
	require.Equal(t, 1, stored.SourceCount)
	require.False(t, stored.Published)
	require.Equal(t, models.ReviewStatusDraft, stored.ReviewStatus)
}

func TestRunNewSourceCorroborates(t *testing.T) {
	store := newMemCaseStore()
	extract := extractorFunc(func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
		ec := caseWithConfidence("PP v Ahmad Zaki", 72)
		ec.SourceURL = doc.URL
		return ec, nil
	})

	first := docsWithContent(1)
	svc := newTestService(testPipelineConfig(), staticFetcher(first), extract, store)
	_, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	followup := []models.RawDocument{{
		ID:       uuid.New(),
		SourceID: "news",
		URL:      "https://other.example.com/court/zaki-verdict",
		Title:    "Verdict coverage",
		Content:  relevantContent,
	}}
	svc2 := newTestService(testPipelineConfig(), staticFetcher(followup), extract, store)
	result, err := svc2.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	stored := store.get("pp v ahmad zaki")
	require.Equal(t, 77, stored.Confidence)
	require.Equal(t, 2, stored.SourceCount)
}

func TestRunCancellationStopsDispatch(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.WorkerCount = 1
	docs := docsWithContent(5)
	store := newMemCaseStore()

	started := make(chan struct{})
	var once sync.Once
	extract := extractorFunc(func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := newTestService(cfg, staticFetcher(docs), extract, store)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := svc.Run(ctx, service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	// Documents still queued when the run is canceled are never
	// dispatched, so they count neither as processed nor as errors.
	require.Less(t, result.TotalProcessed, len(docs))
	require.Equal(t, 0, result.Created)
	require.Equal(t, 0, store.upserts)
}

func TestRunNeverDemotesPublishedCase(t *testing.T) {
	store := newMemCaseStore()
	store.cases["pp v ahmad zaki"] = &models.MergedCase{
		ID:            uuid.New(),
		CanonicalKey:  "pp v ahmad zaki",
		CanonicalName: "PP v Ahmad Zaki",
		Confidence:    95,
		SourceCount:   3,
		Published:     true,
		ReviewStatus:  models.ReviewStatusPublished,
	}

	svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return caseWithConfidence("PP v Ahmad Zaki", 40), nil
		}, store)

	_, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	stored := store.get("pp v ahmad zaki")
	require.True(t, stored.Published)
	require.Equal(t, models.ReviewStatusPublished, stored.ReviewStatus)
}

func TestRunRetriesConflicts(t *testing.T) {
	store := newMemCaseStore()
	store.conflicts = 1
	svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return caseWithConfidence("PP v Ahmad Zaki", 80), nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Created)
	require.NotNil(t, store.get("pp v ahmad zaki"))
}

func TestRunSourceUnavailableIsRecordedNotFatal(t *testing.T) {
	store := newMemCaseStore()
	fetch := fetcherFunc(func(ctx context.Context, src sources.Source, limit int) (*sources.FetchResult, error) {
		return nil, errors.New("connection refused")
	})
	svc := newTestService(testPipelineConfig(), fetch,
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return nil, nil
		}, store)

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)
	require.Equal(t, 0, result.TotalProcessed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "connection refused")
}

func TestRunUnknownSource(t *testing.T) {
	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(nil),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return nil, nil
		}, store)

	_, err := svc.Run(context.Background(), service.RunRequest{Source: "usenet"})
	require.ErrorIs(t, err, sources.ErrUnknownSource)
}

func TestRunResolvesLawyersAgainstRegistry(t *testing.T) {
	registryID := uuid.New()
	lookup := service.CandidateLookup(func(ctx context.Context, fragment string) ([]models.LawyerCandidate, error) {
		return []models.LawyerCandidate{{ID: registryID, Name: "Ahmad Zaki Hassan"}}, nil
	})

	store := newMemCaseStore()
	svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			ec := caseWithConfidence("PP v Ahmad Zaki", 80)
			ec.Lawyers = models.LawyerAssociations{
				{ExtractedName: "Dato' Ahmad Zaki Bin Hassan", Role: models.RoleDefense, Confidence: 85},
				{ExtractedName: "John Smith", Role: models.RoleProsecution, Confidence: 70},
			}
			return ec, nil
		}, store, service.WithCandidateLookup(lookup))

	_, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	stored := store.get("pp v ahmad zaki")
	require.NotNil(t, stored)
	require.Len(t, stored.Lawyers, 2)

	resolved := stored.Lawyers[0]
	require.NotNil(t, resolved.ResolvedLawyerID)
	require.Equal(t, registryID, *resolved.ResolvedLawyerID)
	require.Equal(t, "Ahmad Zaki Hassan", resolved.ResolvedName)

	// Below-threshold names stay on the case, unresolved.
	unresolved := stored.Lawyers[1]
	require.Nil(t, unresolved.ResolvedLawyerID)
}

func TestRunRecordsLedger(t *testing.T) {
	store := newMemCaseStore()
	runs := &memRunStore{}
	svc := newTestService(testPipelineConfig(), staticFetcher(docsWithContent(1)),
		func(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
			return caseWithConfidence("PP v Ahmad Zaki", 80), nil
		}, store, service.WithRunStore(runs))

	result, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.NoError(t, err)

	require.Len(t, runs.created, 1)
	require.Equal(t, models.RunStatusRunning, runs.created[0].Status)
	require.Len(t, runs.finished, 1)
	finished := runs.finished[0]
	require.Equal(t, models.RunStatusCompleted, finished.Status)
	require.Equal(t, result.TotalProcessed, finished.Processed)
	require.Equal(t, result.Created, finished.Created)
	require.NotNil(t, finished.CompletedAt)
}

func TestRunMissingDependencies(t *testing.T) {
	svc := service.NewIngestService(service.WithConfig(testPipelineConfig()))
	_, err := svc.Run(context.Background(), service.RunRequest{Source: sources.TypeNews})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not set"))
}
