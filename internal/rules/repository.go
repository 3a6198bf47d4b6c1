package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// ErrNotFound is returned when a rule lookup finds no matching row.
var ErrNotFound = errors.New("rule not found")

// Repository is the Postgres-backed persistence layer for custom rules
// (spec §4.5). It is ACID through a single pgxpool.Pool and bumps
// rules_version transactionally on every mutating call.
type Repository struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewRepository creates a new rules repository.
func NewRepository(pool *pgxpool.Pool, logger *logrus.Logger) *Repository {
	return &Repository{pool: pool, log: logger}
}

// Create inserts a new rule and bumps rules_version in the same transaction.
func (r *Repository) Create(ctx context.Context, rule *domain.CustomRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create rule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	metadata, err := json.Marshal(rule.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO custom_rules
			(rule_id, rule_type, priority, source_term, target_code, target_system,
			 target_display, conditions, metadata, created_at, updated_at, created_by, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rule.RuleID, rule.RuleType, rule.Priority, rule.SourceTerm, rule.Target.Code,
		rule.Target.System, rule.Target.Display, conditions, metadata,
		rule.CreatedAt, rule.UpdatedAt, rule.CreatedBy, rule.IsActive)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE rules_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump rules_version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create rule tx: %w", err)
	}

	r.log.WithFields(logrus.Fields{"rule_id": rule.RuleID, "rule_type": rule.RuleType}).Info("custom rule created")
	return nil
}

// Update replaces an existing rule's mutable fields and bumps rules_version.
func (r *Repository) Update(ctx context.Context, rule *domain.CustomRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update rule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	metadata, err := json.Marshal(rule.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE custom_rules SET
			rule_type = $2, priority = $3, source_term = $4, target_code = $5,
			target_system = $6, target_display = $7, conditions = $8, metadata = $9,
			updated_at = $10, is_active = $11
		WHERE rule_id = $1
	`, rule.RuleID, rule.RuleType, rule.Priority, rule.SourceTerm, rule.Target.Code,
		rule.Target.System, rule.Target.Display, conditions, metadata, rule.UpdatedAt, rule.IsActive)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `UPDATE rules_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump rules_version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update rule tx: %w", err)
	}

	r.log.WithFields(logrus.Fields{"rule_id": rule.RuleID}).Info("custom rule updated")
	return nil
}

// Deactivate flips is_active to false without deleting history, bumping
// rules_version.
func (r *Repository) Deactivate(ctx context.Context, ruleID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deactivate rule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE custom_rules SET is_active = false, updated_at = $2 WHERE rule_id = $1`,
		ruleID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `UPDATE rules_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump rules_version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deactivate rule tx: %w", err)
	}

	r.log.WithFields(logrus.Fields{"rule_id": ruleID}).Info("custom rule deactivated")
	return nil
}

// Get fetches a single rule by id.
func (r *Repository) Get(ctx context.Context, ruleID string) (*domain.CustomRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT rule_id, rule_type, priority, source_term, target_code, target_system,
		       target_display, conditions, metadata, created_at, updated_at, created_by, is_active
		FROM custom_rules WHERE rule_id = $1
	`, ruleID)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules, optionally restricted to active ones, ordered by
// most recently updated first. Priority ordering is applied by
// Engine.FindMatches, not here.
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]*domain.CustomRule, error) {
	query := `
		SELECT rule_id, rule_type, priority, source_term, target_code, target_system,
		       target_display, conditions, metadata, created_at, updated_at, created_by, is_active
		FROM custom_rules
	`
	if activeOnly {
		query += " WHERE is_active = true"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var result []*domain.CustomRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// Version returns the current monotonic rules_version counter.
func (r *Repository) Version(ctx context.Context) (uint64, error) {
	var version uint64
	err := r.pool.QueryRow(ctx, `SELECT version FROM rules_version WHERE id = 1`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read rules_version: %w", err)
	}
	return version, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.CustomRule, error) {
	var rule domain.CustomRule
	var conditions, metadata []byte

	err := row.Scan(&rule.RuleID, &rule.RuleType, &rule.Priority, &rule.SourceTerm,
		&rule.Target.Code, &rule.Target.System, &rule.Target.Display,
		&conditions, &metadata, &rule.CreatedAt, &rule.UpdatedAt, &rule.CreatedBy, &rule.IsActive)
	if err != nil {
		return nil, err
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rule.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &rule, nil
}
