// Package models provides domain models for the loan decisioning engine.
package models

import (
	"strings"
	"time"
)

// EmploymentStatus represents the applicant's employment status.
type EmploymentStatus string

const (
	Employed     EmploymentStatus = "employed"
	SelfEmployed EmploymentStatus = "self_employed"
	Unemployed   EmploymentStatus = "unemployed"
)

// LoanPurpose represents the declared purpose of a loan.
type LoanPurpose string

const (
	PurposeMortgage  LoanPurpose = "mortgage"
	PurposeVehicle   LoanPurpose = "vehicle"
	PurposePersonal  LoanPurpose = "personal"
	PurposeEducation LoanPurpose = "education"
	PurposeBusiness  LoanPurpose = "business"
	PurposeOther     LoanPurpose = "other"
)

// NormalizePurpose maps free-form purpose strings onto a known LoanPurpose.
// The second return value is false when the input is not recognised.
func NormalizePurpose(s string) (LoanPurpose, bool) {
	switch p := LoanPurpose(strings.ToLower(strings.TrimSpace(s))); p {
	case PurposeMortgage, PurposeVehicle, PurposePersonal, PurposeEducation, PurposeBusiness, PurposeOther:
		return p, true
	case "others":
		return PurposeOther, true
	default:
		return PurposeOther, false
	}
}

// PersonalInfo holds the applicant's identity details.
type PersonalInfo struct {
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	PersonalID string `json:"personal_id" yaml:"personal_id"`
	BirthYear  string `json:"birth_year,omitempty" yaml:"birth_year"`
	Phone      string `json:"phone,omitempty" yaml:"phone"`
	Address    string `json:"address,omitempty" yaml:"address"`
}

// Education holds the applicant's education details.
type Education struct {
	Level      string `json:"education_level,omitempty" yaml:"education_level"`
	University string `json:"university,omitempty" yaml:"university"`
}

// Employment holds the applicant's employment details.
type Employment struct {
	Status          EmploymentStatus `json:"employment_status" yaml:"employment_status"`
	CompanyName     string           `json:"company_name,omitempty" yaml:"company_name"`
	MonthlySalary   float64          `json:"monthly_salary" yaml:"monthly_salary"`
	ExperienceYears int              `json:"experience_years,omitempty" yaml:"experience_years"`
}

// LoanRequest holds what the applicant asked for.
type LoanRequest struct {
	Amount         float64     `json:"loan_amount" yaml:"loan_amount"`
	DurationMonths int         `json:"loan_duration" yaml:"loan_duration"`
	Purpose        LoanPurpose `json:"loan_purpose" yaml:"loan_purpose"`
	AdditionalInfo string      `json:"additional_info,omitempty" yaml:"additional_info"`
}

// Document references an uploaded supporting document.
type Document struct {
	Type     string `json:"document_type" yaml:"document_type"`
	FileName string `json:"file_name" yaml:"file_name"`
	FilePath string `json:"file_path" yaml:"file_path"`
}

// Application is a loan application as received from the upstream layer.
// It is read-only for the whole decisioning run.
type Application struct {
	CustomerID   string       `json:"customer_id" yaml:"customer_id"`
	PersonalInfo PersonalInfo `json:"personal_info" yaml:"personal_info"`
	Education    Education    `json:"education" yaml:"education"`
	Employment   Employment   `json:"employment" yaml:"employment"`
	LoanRequest  *LoanRequest `json:"loan_request" yaml:"loan_request"`
	Documents    []Document   `json:"documents,omitempty" yaml:"documents"`
	CreatedAt    time.Time    `json:"created_at,omitempty" yaml:"created_at"`
}

// LoanCharacteristics is the subset of the loan request used for risk and terms.
type LoanCharacteristics struct {
	Amount         float64
	DurationMonths int
	Purpose        LoanPurpose
}

// Characteristics returns the loan characteristics of the application.
// It returns false when the application carries no loan request.
func (a *Application) Characteristics() (LoanCharacteristics, bool) {
	if a == nil || a.LoanRequest == nil {
		return LoanCharacteristics{}, false
	}
	purpose, _ := NormalizePurpose(string(a.LoanRequest.Purpose))
	return LoanCharacteristics{
		Amount:         a.LoanRequest.Amount,
		DurationMonths: a.LoanRequest.DurationMonths,
		Purpose:        purpose,
	}, true
}
