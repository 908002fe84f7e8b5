package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recommendation-engine/domain"
)

func TestLexicalScorer_NeutralWithoutProfile(t *testing.T) {
	scorer := NewLexicalScorer(0.2)
	item := domain.CandidateItem{Title: "Anything at all"}

	assert.Equal(t, neutralLexicalScore, scorer.Score(&item, nil))
	assert.Equal(t, neutralLexicalScore, scorer.Score(&item, &domain.InterestProfile{}))
}

func TestLexicalScorer_ScoresTermOverlap(t *testing.T) {
	scorer := NewLexicalScorer(0.2)
	profile := &domain.InterestProfile{TermWeights: map[string]float64{
		"kubernetes": 0.9,
		"golang":     0.7,
		"databases":  0.4,
		"gardening":  0.3,
	}}

	strong := scorer.Score(&domain.CandidateItem{
		Title:   "Kubernetes operators in Golang",
		Content: "Managing databases on kubernetes",
	}, profile)
	weak := scorer.Score(&domain.CandidateItem{Title: "Gardening on a budget"}, profile)
	none := scorer.Score(&domain.CandidateItem{Title: "Celebrity gossip roundup"}, profile)

	for _, score := range []float64{strong, weak, none} {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
	assert.Greater(t, strong, weak)
	assert.Greater(t, weak, none)
	assert.Zero(t, none)
}

func TestLexicalScorer_ScoreIsBounded(t *testing.T) {
	scorer := NewLexicalScorer(0.2)
	// A profile whose every term matches would exceed 1.0 without clamping.
	profile := &domain.InterestProfile{TermWeights: map[string]float64{
		"alpha": 1.0, "beta": 1.0, "gamma": 1.0,
	}}
	item := domain.CandidateItem{Title: "alpha beta gamma"}

	assert.Equal(t, 1.0, scorer.Score(&item, profile))
}

func TestLexicalScorer_ScoreAllAppliesFloor(t *testing.T) {
	scorer := NewLexicalScorer(0.2)
	profile := &domain.InterestProfile{TermWeights: map[string]float64{
		"kubernetes": 0.9,
		"golang":     0.7,
	}}

	items := []domain.CandidateItem{
		{ID: "match", Title: "Kubernetes golang tooling"},
		{ID: "miss", Title: "Celebrity gossip roundup"},
	}

	scored := scorer.ScoreAll(items, profile)
	require.Len(t, scored, 1)
	assert.Equal(t, "match", scored[0].ID)
	assert.Equal(t, scored[0].LexicalScore, scored[0].FinalScore)
}
