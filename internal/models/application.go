package models

import (
	"math"

	apperrors "loanai/internal/errors"
)

// Application limits accepted by the decisioning engine.
const (
	MaxLoanAmount       = 10_000_000
	MinDurationMonths   = 1
	MaxDurationMonths   = 360
	maxCustomerIDLength = 100
)

// Validate checks the fields the decisioning engine depends on. It returns a
// *errors.ValidationError for the first defect found.
func (a *Application) Validate() error {
	if a == nil {
		return apperrors.NewValidationError("application", nil, "application is required")
	}
	if a.CustomerID == "" {
		return apperrors.NewValidationError("customer_id", a.CustomerID, "customer id is required")
	}
	if len(a.CustomerID) > maxCustomerIDLength {
		return apperrors.NewValidationError("customer_id", a.CustomerID, "customer id is too long")
	}

	if a.LoanRequest == nil {
		return apperrors.NewValidationError("loan_request", nil, "loan characteristics are required")
	}
	lr := a.LoanRequest
	if !finite(lr.Amount) || lr.Amount <= 0 || lr.Amount > MaxLoanAmount {
		return apperrors.NewValidationError("loan_request.loan_amount", lr.Amount, "must be greater than 0 and at most 10,000,000")
	}
	if lr.DurationMonths < MinDurationMonths || lr.DurationMonths > MaxDurationMonths {
		return apperrors.NewValidationError("loan_request.loan_duration", lr.DurationMonths, "must be between 1 and 360 months")
	}
	if _, ok := NormalizePurpose(string(lr.Purpose)); !ok {
		return apperrors.NewValidationError("loan_request.loan_purpose", lr.Purpose, "unknown loan purpose")
	}

	switch a.Employment.Status {
	case Employed, SelfEmployed, Unemployed, "":
	default:
		return apperrors.NewValidationError("employment.employment_status", a.Employment.Status, "unknown employment status")
	}
	// Loan terms are capped against salary.
	if !finite(a.Employment.MonthlySalary) || a.Employment.MonthlySalary <= 0 {
		return apperrors.NewValidationError("employment.monthly_salary", a.Employment.MonthlySalary, "monthly salary must be greater than 0")
	}

	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
