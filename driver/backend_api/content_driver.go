package backendapi

import (
	"context"
	"fmt"
	"time"

	"recommendation-engine/domain"
)

type candidateModel struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Content     string    `json:"content"`
	Confidence  *float64  `json:"confidence"`
	PublishedAt time.Time `json:"published_at"`
}

type candidatesResponse struct {
	Items []candidateModel `json:"items"`
}

// FetchCandidates returns up to limit unscored candidate items.
func (c *Client) FetchCandidates(ctx context.Context, limit int) ([]domain.CandidateItem, error) {
	var resp candidatesResponse
	path := fmt.Sprintf("/v1/engine/candidates?limit=%d", limit)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	items := make([]domain.CandidateItem, 0, len(resp.Items))
	for _, m := range resp.Items {
		items = append(items, domain.CandidateItem{
			ID:                 m.ID,
			SourceID:           m.SourceID,
			Title:              m.Title,
			Link:               m.Link,
			Content:            m.Content,
			ExternalConfidence: m.Confidence,
			PublishedAt:        m.PublishedAt,
		})
	}
	return items, nil
}

type sourceModel struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	QualityRating *float64 `json:"quality_rating"`
}

type sourcesResponse struct {
	Sources []sourceModel `json:"sources"`
}

// FetchSources returns per-source metadata including quality ratings.
func (c *Client) FetchSources(ctx context.Context) ([]domain.SourceInfo, error) {
	var resp sourcesResponse
	if err := c.getJSON(ctx, "/v1/engine/sources", &resp); err != nil {
		return nil, err
	}

	sources := make([]domain.SourceInfo, 0, len(resp.Sources))
	for _, m := range resp.Sources {
		sources = append(sources, domain.SourceInfo{
			ID:            m.ID,
			Title:         m.Title,
			QualityRating: m.QualityRating,
		})
	}
	return sources, nil
}

type profileResponse struct {
	TermWeights        map[string]float64 `json:"term_weights"`
	SampleCount        int                `json:"sample_count"`
	Confidence         int                `json:"confidence"`
	OnboardingComplete bool               `json:"onboarding_complete"`
}

// FetchProfile returns the reader's interest profile.
func (c *Client) FetchProfile(ctx context.Context) (*domain.InterestProfile, error) {
	var resp profileResponse
	if err := c.getJSON(ctx, "/v1/engine/profile", &resp); err != nil {
		return nil, err
	}
	return &domain.InterestProfile{
		TermWeights:        resp.TermWeights,
		SampleCount:        resp.SampleCount,
		Confidence:         resp.Confidence,
		OnboardingComplete: resp.OnboardingComplete,
	}, nil
}

// FetchSupplyStats returns content supply telemetry.
func (c *Client) FetchSupplyStats(ctx context.Context) (*domain.SupplyMetrics, error) {
	var resp domain.SupplyMetrics
	if err := c.getJSON(ctx, "/v1/engine/stats/supply", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchDemandStats returns consumption telemetry.
func (c *Client) FetchDemandStats(ctx context.Context) (*domain.DemandMetrics, error) {
	var resp domain.DemandMetrics
	if err := c.getJSON(ctx, "/v1/engine/stats/demand", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchHistoryStats returns trailing seven-day activity counters. The
// engine overwrites the processed and recommended counters with its own
// usage log; the backend is authoritative only for reads.
func (c *Client) FetchHistoryStats(ctx context.Context) (*domain.HistoryMetrics, error) {
	var resp domain.HistoryMetrics
	if err := c.getJSON(ctx, "/v1/engine/stats/history", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
