package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flowdesk/internal/automation"
	"flowdesk/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat is the canonical column encoding. Times are normalized to UTC
// so ClaimDue's string CAS compares exact values. The fractional second is
// fixed-width so the TEXT columns stay lexicographically order-preserving
// for ORDER BY; RFC3339Nano would trim trailing zeros and break that.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateAutomation(ctx context.Context, a automation.Automation) error {
	recipients, schedule, err := encodeAutomationJSON(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automations(id, user_id, type, config, conditions, recipients, schedule,
		   is_active, last_executed_at, next_execution_at, total_executions, successful_executions,
		   created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, string(a.Type), nullStr(string(a.Config)), nullStr(string(a.Conditions)),
		recipients, schedule, boolInt(a.IsActive), nullTime(a.LastExecutedAt), nullTime(a.NextExecutionAt),
		a.TotalExecutions, a.SuccessfulExecutions, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) GetAutomation(ctx context.Context, id string) (automation.Automation, error) {
	row := s.db.QueryRowContext(ctx, selectAutomation+` WHERE id = ?`, id)
	a, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.Automation{}, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) ListAutomations(ctx context.Context, userID string) ([]automation.Automation, error) {
	q := selectAutomation
	var args []any
	if strings.TrimSpace(userID) != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at`
	return s.queryAutomations(ctx, q, args...)
}

func (s *sqliteStore) ListScheduled(ctx context.Context) ([]automation.Automation, error) {
	return s.queryAutomations(ctx,
		selectAutomation+` WHERE is_active = 1 AND next_execution_at IS NOT NULL ORDER BY next_execution_at`)
}

func (s *sqliteStore) UpdateAutomation(ctx context.Context, a automation.Automation) error {
	recipients, schedule, err := encodeAutomationJSON(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET user_id=?, type=?, config=?, conditions=?, recipients=?, schedule=?,
		   is_active=?, last_executed_at=?, next_execution_at=?, total_executions=?, successful_executions=?,
		   updated_at=?
		 WHERE id=?`,
		a.UserID, string(a.Type), nullStr(string(a.Config)), nullStr(string(a.Conditions)),
		recipients, schedule, boolInt(a.IsActive), nullTime(a.LastExecutedAt), nullTime(a.NextExecutionAt),
		a.TotalExecutions, a.SuccessfulExecutions, fmtTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteAutomation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) ClaimDue(ctx context.Context, id string, due time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET next_execution_at = NULL, updated_at = ?
		 WHERE id = ? AND next_execution_at = ?`,
		fmtTime(time.Now()), id, fmtTime(due),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automations SET is_active = 0, next_execution_at = NULL, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id,
	)
	return err
}

func (s *sqliteStore) InsertExecution(ctx context.Context, e automation.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, automation_id, status, started_at, completed_at, error, result)
		 VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.AutomationID, string(e.Status), fmtTime(e.StartedAt),
		nullTime(e.CompletedAt), nullStr(e.Error), nullStr(string(e.Result)),
	)
	return err
}

func (s *sqliteStore) RecordRun(ctx context.Context, a automation.Automation, e automation.Execution) error {
	recipients, schedule, err := encodeAutomationJSON(a)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE automations SET user_id=?, type=?, config=?, conditions=?, recipients=?, schedule=?,
		   is_active=?, last_executed_at=?, next_execution_at=?, total_executions=?, successful_executions=?,
		   updated_at=?
		 WHERE id=?`,
		a.UserID, string(a.Type), nullStr(string(a.Config)), nullStr(string(a.Conditions)),
		recipients, schedule, boolInt(a.IsActive), nullTime(a.LastExecutedAt), nullTime(a.NextExecutionAt),
		a.TotalExecutions, a.SuccessfulExecutions, fmtTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return err
	}
	if err := mustAffect(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE executions SET status=?, completed_at=?, error=?, result=? WHERE id=?`,
		string(e.Status), nullTime(e.CompletedAt), nullStr(e.Error), nullStr(string(e.Result)), e.ID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListExecutions(ctx context.Context, automationID string, limit int) ([]automation.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, automation_id, status, started_at, completed_at, error, result
		 FROM executions WHERE automation_id = ? ORDER BY started_at DESC LIMIT ?`,
		automationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Execution
	for rows.Next() {
		var (
			e                       automation.Execution
			status                  string
			startedAt               string
			completedAt, errMsg, res sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AutomationID, &status, &startedAt, &completedAt, &errMsg, &res); err != nil {
			return nil, err
		}
		e.Status = automation.ExecStatus(status)
		t, err := parseTime(startedAt)
		if err != nil {
			return nil, err
		}
		e.StartedAt = t
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, err
			}
			e.CompletedAt = &t
		}
		e.Error = errMsg.String
		if res.Valid {
			e.Result = json.RawMessage(res.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const selectAutomation = `SELECT id, user_id, type, config, conditions, recipients, schedule,
   is_active, last_executed_at, next_execution_at, total_executions, successful_executions,
   created_at, updated_at
 FROM automations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (automation.Automation, error) {
	var (
		a                             automation.Automation
		typ, scheduleJSON             string
		config, conditions, recipient sql.NullString
		isActive                      int
		lastExec, nextExec            sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(&a.ID, &a.UserID, &typ, &config, &conditions, &recipient, &scheduleJSON,
		&isActive, &lastExec, &nextExec, &a.TotalExecutions, &a.SuccessfulExecutions,
		&createdAt, &updatedAt)
	if err != nil {
		return automation.Automation{}, err
	}
	a.Type = automation.ActionType(typ)
	if config.Valid {
		a.Config = json.RawMessage(config.String)
	}
	if conditions.Valid {
		a.Conditions = json.RawMessage(conditions.String)
	}
	if recipient.Valid && recipient.String != "" {
		if err := json.Unmarshal([]byte(recipient.String), &a.Recipients); err != nil {
			return automation.Automation{}, fmt.Errorf("decode recipients: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &a.Schedule); err != nil {
		return automation.Automation{}, fmt.Errorf("decode schedule: %w", err)
	}
	a.IsActive = isActive != 0
	if lastExec.Valid {
		t, err := parseTime(lastExec.String)
		if err != nil {
			return automation.Automation{}, err
		}
		a.LastExecutedAt = &t
	}
	if nextExec.Valid {
		t, err := parseTime(nextExec.String)
		if err != nil {
			return automation.Automation{}, err
		}
		a.NextExecutionAt = &t
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return automation.Automation{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return automation.Automation{}, err
	}
	return a, nil
}

func (s *sqliteStore) queryAutomations(ctx context.Context, q string, args ...any) ([]automation.Automation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodeAutomationJSON(a automation.Automation) (recipients, schedule string, err error) {
	rb, err := json.Marshal(a.Recipients)
	if err != nil {
		return "", "", fmt.Errorf("encode recipients: %w", err)
	}
	sb, err := json.Marshal(a.Schedule)
	if err != nil {
		return "", "", fmt.Errorf("encode schedule: %w", err)
	}
	return string(rb), string(sb), nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Rows written before the fixed-width encoding.
		if t, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
