// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"loanai/internal/models"
)

// DecisionStore defines the interface for decision persistence.
type DecisionStore interface {
	// Decisions
	SaveDecision(ctx context.Context, d *models.DecisionResult) error
	GetDecisionByID(ctx context.Context, id string) (*models.DecisionResult, error)
	GetLatestDecision(ctx context.Context, customerID string) (*models.DecisionResult, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]models.DecisionResult, error)
	GetDecisionStats(ctx context.Context) (*models.DecisionStats, error)

	// Processing status
	SetStatus(ctx context.Context, rec models.StatusRecord) error
	GetStatus(ctx context.Context, customerID string) (*models.StatusRecord, error)

	Close() error
}

// DecisionFilter narrows ListDecisions. Zero values match everything.
type DecisionFilter struct {
	CustomerID string
	Decision   models.DecisionStatus
	Policy     string
	Since      time.Time
	Limit      int
}
