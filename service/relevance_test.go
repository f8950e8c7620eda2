package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/service"
)

func TestRelevanceFilter(t *testing.T) {
	filter := service.NewRelevanceFilter(3)

	tests := []struct {
		name     string
		doc      models.RawDocument
		relevant bool
	}{
		{
			name: "english legal coverage",
			doc: models.RawDocument{
				Title:   "High-profile trial begins",
				Content: "The court heard the lawyer argue before the judge on the first day of the trial.",
			},
			relevant: true,
		},
		{
			name: "bahasa malaysia legal coverage",
			doc: models.RawDocument{
				Title:   "Perbicaraan kes rasuah bermula",
				Content: "Mahkamah Tinggi mendengar hujah peguam di hadapan hakim semalam.",
			},
			relevant: true,
		},
		{
			name: "mixed language counts both",
			doc: models.RawDocument{
				Title:   "Court updates",
				Content: "Peguam hadir di mahkamah.",
			},
			relevant: true,
		},
		{
			name: "sports article",
			doc: models.RawDocument{
				Title:   "Harimau Malaya win again",
				Content: "The national squad scored three goals in the second half of the match.",
			},
			relevant: false,
		},
		{
			name: "single mention below threshold",
			doc: models.RawDocument{
				Title:   "Budget 2026",
				Content: "The finance minister, a former lawyer, tabled the budget in parliament.",
			},
			relevant: false,
		},
		{
			name:     "empty document",
			doc:      models.RawDocument{},
			relevant: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.relevant, filter.IsRelevant(tt.doc))
		})
	}
}

func TestRelevanceScoreCountsRepeats(t *testing.T) {
	filter := service.NewRelevanceFilter(3)
	doc := models.RawDocument{Content: "mahkamah mahkamah mahkamah"}
	require.Equal(t, 3, filter.Score(doc))
	require.True(t, filter.IsRelevant(doc))
}

func TestRelevanceFilterDefaultThreshold(t *testing.T) {
	filter := service.NewRelevanceFilter(0)
	doc := models.RawDocument{Content: "court trial"}
	require.False(t, filter.IsRelevant(doc))
}
