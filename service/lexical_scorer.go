// ABOUTME: This file implements stage-1 lexical scoring against the interest profile
// ABOUTME: Cheap term-overlap scoring used for pre-filtering and degraded mode
package service

import (
	"strings"
	"unicode"

	"recommendation-engine/domain"
)

// lexicalGain controls how fast term overlap saturates the score. Real
// titles match only a handful of profile terms; without the gain almost
// everything would sit near zero.
const lexicalGain = 5.0

// neutralLexicalScore is assigned when no profile exists to score against.
const neutralLexicalScore = 0.5

// LexicalScorer scores candidate items by weighted term overlap with the
// interest profile. Scores are always in [0,1]. The scorer is stateless and
// safe for concurrent use.
type LexicalScorer struct {
	floor float64
}

// NewLexicalScorer creates a scorer with the given stage-1 pass floor.
func NewLexicalScorer(floor float64) *LexicalScorer {
	return &LexicalScorer{floor: floor}
}

// Floor returns the minimum lexical score an item needs to pass stage 1.
func (s *LexicalScorer) Floor() float64 {
	return s.floor
}

// Score computes the lexical relevance of one item. An empty profile yields
// the neutral score so a fresh install does not filter everything out.
func (s *LexicalScorer) Score(item *domain.CandidateItem, profile *domain.InterestProfile) float64 {
	if profile == nil || len(profile.TermWeights) == 0 {
		return neutralLexicalScore
	}

	tokens := tokenize(item.Title + " " + item.Content)
	if len(tokens) == 0 {
		return 0
	}

	var matched, total float64
	for term, weight := range profile.TermWeights {
		if weight > 0 {
			total += weight
		}
		if _, ok := tokens[strings.ToLower(term)]; ok {
			matched += weight
		}
	}
	if total == 0 {
		return neutralLexicalScore
	}

	score := matched / total * lexicalGain
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ScoreAll scores every candidate, keeping only those at or above the
// stage-1 floor. Order is preserved.
func (s *LexicalScorer) ScoreAll(items []domain.CandidateItem, profile *domain.InterestProfile) []domain.ScoredItem {
	scored := make([]domain.ScoredItem, 0, len(items))
	for _, item := range items {
		lex := s.Score(&item, profile)
		if lex < s.floor {
			continue
		}
		scored = append(scored, domain.ScoredItem{
			CandidateItem: item,
			LexicalScore:  lex,
			FinalScore:    lex,
		})
	}
	return scored
}

// tokenize lowercases text and splits it into a set of alphanumeric terms.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 1 {
			tokens[b.String()] = struct{}{}
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}
