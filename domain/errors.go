// ABOUTME: Domain-level sentinel errors for the recommendation engine
// ABOUTME: These errors are used with errors.Is() for error type checking
package domain

import "errors"

// Strategy decision errors
var (
	// ErrDecisionCapabilityUnavailable indicates the external decision
	// capability is disabled or unconfigured. The cycle fails without
	// creating a new decision.
	ErrDecisionCapabilityUnavailable = errors.New("decision capability unavailable")

	// ErrDecisionResponseMalformed indicates the decision capability
	// returned a response that could not be parsed as a parameter set.
	ErrDecisionResponseMalformed = errors.New("decision response malformed")

	// ErrNoActiveDecision indicates no strategy decision is currently active.
	ErrNoActiveDecision = errors.New("no active strategy decision")

	// ErrDecisionNotFound indicates the requested decision does not exist.
	ErrDecisionNotFound = errors.New("strategy decision not found")
)

// Scoring errors
var (
	// ErrScoringCapabilityUnavailable indicates the semantic scoring
	// capability is disabled or unconfigured. The pipeline degrades to
	// lexical-only scoring rather than failing.
	ErrScoringCapabilityUnavailable = errors.New("scoring capability unavailable")

	// ErrCostCeilingReached indicates the running cost ceiling was hit
	// mid-run. Treated as a soft stop, not a failure.
	ErrCostCeilingReached = errors.New("daily cost ceiling reached")

	// ErrNoCandidates indicates the content source yielded nothing.
	ErrNoCandidates = errors.New("no candidate items available")
)

// Refill errors
var (
	// ErrRefillStateNotPersisted indicates the durable write of refill
	// state did not complete. The refill attempt must be treated as failed
	// to preserve the daily quota invariant.
	ErrRefillStateNotPersisted = errors.New("refill state not persisted")

	// ErrRefillSuppressed indicates the admission check declined a refill.
	ErrRefillSuppressed = errors.New("refill suppressed by admission policy")
)
