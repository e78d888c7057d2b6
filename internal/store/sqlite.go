package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "loanai/internal/errors"
	"loanai/internal/models"
)

// SQLiteStore implements DecisionStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based decision store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperrors.Wrapf(err, "failed to create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to open database %s", dbPath)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "failed to initialize schema")
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per processing run; latest per customer wins on read
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		correlation_id TEXT,
		decision TEXT NOT NULL,
		policy TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		confidence REAL NOT NULL,
		loan_amount REAL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS application_status (
		customer_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		decision_id TEXT,
		error TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_customer ON decisions(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDecision stores a decision as a new row.
func (s *SQLiteStore) SaveDecision(ctx context.Context, d *models.DecisionResult) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return apperrors.NewStoreError("save_decision", d.ID, err)
	}

	createdAt := d.DetailedReport.DecisionTimestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var loanAmount sql.NullFloat64
	if d.LoanAmount != nil {
		loanAmount = sql.NullFloat64{Float64: *d.LoanAmount, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, customer_id, correlation_id, decision, policy, risk_score, confidence, loan_amount, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.DetailedReport.CustomerID, d.DetailedReport.CorrelationID, d.Decision, d.DetailedReport.Policy,
		d.RiskScore, d.ConfidenceScore, loanAmount, string(payload), createdAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("save_decision", d.ID, fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	return nil
}

// GetDecisionByID retrieves one decision.
func (s *SQLiteStore) GetDecisionByID(ctx context.Context, id string) (*models.DecisionResult, error) {
	row := s.db.QueryRowContext(ctx, "SELECT payload FROM decisions WHERE id = ?", id)
	return scanDecision(row, "get_decision", id)
}

// GetLatestDecision retrieves the most recent decision for a customer.
func (s *SQLiteStore) GetLatestDecision(ctx context.Context, customerID string) (*models.DecisionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM decisions
		WHERE customer_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, customerID)
	return scanDecision(row, "get_latest_decision", customerID)
}

func scanDecision(row *sql.Row, op, key string) (*models.DecisionResult, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewStoreError(op, key, apperrors.ErrDataNotFound)
		}
		return nil, apperrors.NewStoreError(op, key, fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}

	var d models.DecisionResult
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, apperrors.NewStoreError(op, key, err)
	}
	return &d, nil
}

// ListDecisions retrieves decisions newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]models.DecisionResult, error) {
	query := "SELECT payload FROM decisions WHERE 1=1"
	args := []interface{}{}

	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}
	if filter.Decision != "" {
		query += " AND decision = ?"
		args = append(args, filter.Decision)
	}
	if filter.Policy != "" {
		query += " AND policy = ?"
		args = append(args, filter.Policy)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError("list_decisions", "", fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	defer rows.Close()

	var decisions []models.DecisionResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, apperrors.NewStoreError("list_decisions", "", err)
		}
		var d models.DecisionResult
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, apperrors.NewStoreError("list_decisions", "", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetDecisionStats aggregates every stored decision.
func (s *SQLiteStore) GetDecisionStats(ctx context.Context) (*models.DecisionStats, error) {
	stats := &models.DecisionStats{
		ByDecision: make(map[models.DecisionStatus]int),
		ByPolicy:   make(map[string]int),
	}

	var avgRisk, avgConfidence, approved sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(risk_score),
			AVG(confidence),
			SUM(CASE WHEN decision = 'APPROVED' THEN loan_amount ELSE 0 END)
		FROM decisions
	`).Scan(&stats.TotalDecisions, &avgRisk, &avgConfidence, &approved)
	if err != nil {
		return nil, apperrors.NewStoreError("decision_stats", "", fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	stats.AvgRiskScore = avgRisk.Float64
	stats.AvgConfidence = avgConfidence.Float64
	stats.ApprovedAmount = approved.Float64

	if err := s.countBy(ctx, "decision", func(key string, n int) {
		stats.ByDecision[models.DecisionStatus(key)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "policy", func(key string, n int) {
		stats.ByPolicy[key] = n
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

// countBy groups decisions by a fixed column name.
func (s *SQLiteStore) countBy(ctx context.Context, column string, fn func(key string, n int)) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM decisions GROUP BY %s", column, column))
	if err != nil {
		return apperrors.NewStoreError("decision_stats", column, fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return apperrors.NewStoreError("decision_stats", column, err)
		}
		fn(key, n)
	}
	return rows.Err()
}

// SetStatus upserts the processing status of a customer's application.
func (s *SQLiteStore) SetStatus(ctx context.Context, rec models.StatusRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO application_status (customer_id, status, decision_id, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.CustomerID, rec.Status, rec.DecisionID, rec.Error, updatedAt.UTC())
	if err != nil {
		return apperrors.NewStoreError("set_status", rec.CustomerID, fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	return nil
}

// GetStatus returns the processing status of a customer's application.
func (s *SQLiteStore) GetStatus(ctx context.Context, customerID string) (*models.StatusRecord, error) {
	rec := &models.StatusRecord{CustomerID: customerID}
	var decisionID, errText sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT status, decision_id, error, updated_at
		FROM application_status WHERE customer_id = ?
	`, customerID).Scan(&rec.Status, &decisionID, &errText, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewStoreError("get_status", customerID, apperrors.ErrDataNotFound)
		}
		return nil, apperrors.NewStoreError("get_status", customerID, fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err))
	}
	rec.DecisionID = decisionID.String
	rec.Error = errText.String
	return rec, nil
}
