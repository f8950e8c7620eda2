package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"

	"github.com/amirariff91/lawkita-sub001/config"
	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/storage"
)

var (
	ErrGeneratorNotSet    = errors.New("content generator not set")
	ErrMalformedResponse  = errors.New("extraction response failed schema validation")
	ErrExtractionFailed   = errors.New("extraction failed after retries")
	ErrExtractionCanceled = errors.New("extraction canceled")
)

// ContentGenerator is the narrow boundary to the language-model service:
// text in, raw text out. The pipeline's merge/resolve/gate logic is
// tested against canned implementations of this interface.
type ContentGenerator interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// GeminiGenerator implements ContentGenerator on the Gemini API.
type GeminiGenerator struct {
	client    *genai.Client
	modelName string
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(client *genai.Client, modelName string) *GeminiGenerator {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &GeminiGenerator{client: client, modelName: modelName}
}

// Generate sends the prompt in JSON mode and concatenates the text parts
// of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.1)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned empty content")
	}
	return out.String(), nil
}

const extractionSystemInstruction = `You are a legal news analyst for Malaysian court coverage. ` +
	`Extract the legal case described in the document into JSON with exactly these keys: ` +
	`caseName (string), alternativeNames (string array), category (criminal|civil|syariah|corporate|constitutional|other), ` +
	`status (ongoing|concluded|appeal), court (string), judges (string array), ` +
	`lawyers (array of {name, role: prosecution|defense|judge|other, roleDescription, confidence 0-100}), ` +
	`keyDates (array of {date: yyyy-mm-dd, event}), charges (string array), verdict (string), ` +
	`summary (string), confidence (0-100, your overall extraction certainty). ` +
	`If the document does not describe a specific legal case, respond with exactly {"hasLegalCase": false}. ` +
	`Respond with JSON only, no commentary.`

// Extractor sends document text to the language-model service and parses
// the response into an ExtractedCase. Calls are rate-limited to a fixed
// concurrency ceiling and retried with bounded backoff.
type Extractor struct {
	gen     ContentGenerator
	archive storage.Storage
	cfg     *config.Pipeline
	sem     chan struct{}
	log     *logrus.Entry
}

// NewExtractor creates an extractor. The archive may be nil; malformed
// responses are then only logged, not retained.
func NewExtractor(gen ContentGenerator, archive storage.Storage, cfg *config.Pipeline) *Extractor {
	return &Extractor{
		gen:     gen,
		archive: archive,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.ExtractConcurrency),
		log:     logrus.WithField("component", "extractor"),
	}
}

// Extract runs one document through the extraction service. A nil case
// with nil error means the service reported no legal case. Content is
// truncated to the configured character budget before submission, so
// confidence is confidence-given-truncation.
func (e *Extractor) Extract(ctx context.Context, doc models.RawDocument) (*models.ExtractedCase, error) {
	if e.gen == nil {
		return nil, ErrGeneratorNotSet
	}

	content := doc.Content
	if len(content) > e.cfg.ContentCharBudget {
		content = content[:e.cfg.ContentCharBudget]
	}

	prompt := fmt.Sprintf("DOCUMENT TITLE: %s\nDOCUMENT SOURCE: %s\n\nDOCUMENT CONTENT:\n%s",
		doc.Title, doc.SourceID, content)

	raw, err := e.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	extracted, err := e.parseResponse(raw)
	if err != nil {
		e.archiveRawResponse(ctx, doc, raw)
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	if extracted == nil {
		// Explicit hasLegalCase=false sentinel.
		return nil, nil
	}

	extracted.SourceDocumentID = doc.ID
	extracted.SourceURL = doc.URL
	return extracted, nil
}

// generateWithRetry acquires the rate-limit slot and retries transport
// failures with doubling backoff plus jitter.
func (e *Extractor) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrExtractionCanceled, ctx.Err())
	}

	backoff := e.cfg.ExtractBackoff
	var lastErr error
	for attempt := 0; attempt < e.cfg.ExtractMaxAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrExtractionCanceled, ctx.Err())
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
		raw, err := e.gen.Generate(callCtx, extractionSystemInstruction, prompt)
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		e.log.WithError(err).WithField("attempt", attempt+1).Warn("extraction call failed")

		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionCanceled, ctx.Err())
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrExtractionFailed, e.cfg.ExtractMaxAttempts, lastErr)
}

// extractionPayload is the wire shape the extraction service is
// instructed to return.
type extractionPayload struct {
	HasLegalCase     *bool    `json:"hasLegalCase"`
	CaseName         string   `json:"caseName"`
	AlternativeNames []string `json:"alternativeNames"`
	Category         string   `json:"category"`
	Status           string   `json:"status"`
	Court            string   `json:"court"`
	Judges           []string `json:"judges"`
	Lawyers          []struct {
		Name            string `json:"name"`
		Role            string `json:"role"`
		RoleDescription string `json:"roleDescription"`
		Confidence      int    `json:"confidence"`
	} `json:"lawyers"`
	KeyDates []struct {
		Date  string `json:"date"`
		Event string `json:"event"`
	} `json:"keyDates"`
	Charges    []string `json:"charges"`
	Verdict    string   `json:"verdict"`
	Summary    string   `json:"summary"`
	Confidence int      `json:"confidence"`
}

// parseResponse defensively decodes the model output: code fences are
// stripped, the first balanced JSON object is located, and the result is
// validated against the schema. Returns (nil, nil) on the explicit
// no-case sentinel.
func (e *Extractor) parseResponse(raw string) (*models.ExtractedCase, error) {
	jsonText := firstJSONObject(stripCodeFences(raw))
	if jsonText == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if payload.HasLegalCase != nil && !*payload.HasLegalCase {
		return nil, nil
	}
	if strings.TrimSpace(payload.CaseName) == "" {
		return nil, fmt.Errorf("%w: missing caseName", ErrMalformedResponse)
	}

	lawyers := make(models.LawyerAssociations, 0, len(payload.Lawyers))
	for _, l := range payload.Lawyers {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			continue
		}
		lawyers = append(lawyers, models.LawyerAssociation{
			ExtractedName:   name,
			Role:            models.ParseLawyerRole(l.Role),
			RoleDescription: strings.TrimSpace(l.RoleDescription),
			Confidence:      clampConfidence(l.Confidence),
		})
	}

	keyDates := make(models.KeyDates, 0, len(payload.KeyDates))
	for _, kd := range payload.KeyDates {
		if strings.TrimSpace(kd.Date) == "" {
			continue
		}
		keyDates = append(keyDates, models.KeyDate{
			Date:  strings.TrimSpace(kd.Date),
			Event: strings.TrimSpace(kd.Event),
		})
	}

	return &models.ExtractedCase{
		CaseName:         strings.TrimSpace(payload.CaseName),
		AlternativeNames: trimAll(payload.AlternativeNames),
		Category:         models.ParseCaseCategory(payload.Category),
		Status:           models.ParseCaseStatus(payload.Status),
		Court:            strings.TrimSpace(payload.Court),
		Judges:           trimAll(payload.Judges),
		Lawyers:          lawyers,
		KeyDates:         keyDates,
		Charges:          trimAll(payload.Charges),
		Verdict:          strings.TrimSpace(payload.Verdict),
		Summary:          strings.TrimSpace(payload.Summary),
		Confidence:       clampConfidence(payload.Confidence),
	}, nil
}

// archiveRawResponse retains a malformed model response for diagnosis.
// Best-effort: archive failures are logged, never propagated.
func (e *Extractor) archiveRawResponse(ctx context.Context, doc models.RawDocument, raw string) {
	if e.archive == nil {
		return
	}
	key := storage.ResponseKey(doc.ID)
	if _, err := e.archive.Put(ctx, key, bytes.NewReader([]byte(raw))); err != nil {
		e.log.WithError(err).WithField("key", key).Warn("failed to archive malformed response")
		return
	}
	e.log.WithFields(logrus.Fields{"document": doc.ID, "key": key}).Info("archived malformed response")
}

// stripCodeFences removes a surrounding Markdown code fence if present.
func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// firstJSONObject returns the first balanced top-level JSON object in the
// input, or "" when none exists. Braces inside strings are ignored.
func firstJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
