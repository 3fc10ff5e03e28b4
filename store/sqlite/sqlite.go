/*
Package sqlite provides a SQLite-backed implementation of procurement.Store.

PURPOSE:
  Persists requests, their history, projects, the cost ledger, the user
  directory and the request-number sequence. The same schema maps onto
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - request_history and costs are only ever INSERTed
  - requests and projects are UPDATEd but never DELETEd

CONDITIONAL TRANSITIONS:
  Transition runs inside one database transaction:
    SELECT request -> Apply in Go -> UPDATE ... WHERE id = ? AND status = ?
    -> INSERT new history rows -> COMMIT
  If the UPDATE touches no row the status moved underneath us and the
  transition fails with ErrPreconditionFailed.

KEY TABLES:
  requests:        Current state of every request (items as JSON)
  request_history: Audit trail, one row per entry, keyed (request_id, seq)
  projects:        Budget owners
  costs:           Immutable budget adjustments
  users:           Directory for notification routing
  sequences:       Named counters (request_number)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/procurement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := procurement.NewService(store)

SEE ALSO:
  - procurement/store.go: Interface definitions
  - procurement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/utdesign/procurement-engine/procurement"
)

// Store implements procurement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ procurement.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_number INTEGER PRIMARY KEY,
		sponsor_name TEXT NOT NULL DEFAULT '',
		project_name TEXT NOT NULL DEFAULT '',
		members_json TEXT NOT NULL DEFAULT '[]',
		default_budget_cents INTEGER NOT NULL DEFAULT 0,
		available_budget_cents INTEGER NOT NULL DEFAULT 0,
		pending_budget_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		request_number INTEGER NOT NULL UNIQUE,
		project_number INTEGER NOT NULL REFERENCES projects(project_number),
		manager TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		justification TEXT NOT NULL DEFAULT '',
		additional_info TEXT NOT NULL DEFAULT '',
		items_json TEXT NOT NULL DEFAULT '[]',
		subtotal_cents INTEGER NOT NULL DEFAULT 0,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		oic INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Budget reconciliation scans requests per project (hot path)
	CREATE INDEX IF NOT EXISTS idx_requests_project
		ON requests(project_number, status);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_vendor
		ON requests(vendor);

	-- History (append-only)
	CREATE TABLE IF NOT EXISTS request_history (
		request_id TEXT NOT NULL REFERENCES requests(id),
		seq INTEGER NOT NULL,
		actor TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		old_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (request_id, seq)
	);

	-- Costs (append-only ledger)
	CREATE TABLE IF NOT EXISTS costs (
		id TEXT PRIMARY KEY,
		project_number INTEGER NOT NULL REFERENCES projects(project_number),
		cost_type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_costs_project
		ON costs(project_number, created_at);

	CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		projects_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_users_role
		ON users(role);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, request_number, project_number, manager, vendor, source_url,
	justification, additional_info, items_json, subtotal_cents, shipping_cents,
	total_cents, status, oic, created_at, updated_at`

// CreateRequest inserts a request and its initial history.
func (s *Store) CreateRequest(ctx context.Context, r *procurement.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	itemsJSON, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequestNumber, r.ProjectNumber, r.Manager, r.Vendor, r.SourceURL,
		r.Justification, r.AdditionalInfo, string(itemsJSON), r.SubtotalCents, r.ShippingCents,
		r.TotalCents, string(r.Status), int(r.OIC), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	for i, h := range r.History {
		if err := insertHistory(ctx, tx, r.ID, i, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRequest retrieves a request by ID. Returns nil, nil when absent.
func (s *Store) GetRequest(ctx context.Context, id string) (*procurement.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

// ListRequests returns requests matching the filter ordered by request number.
func (s *Store) ListRequests(ctx context.Context, filter procurement.RequestFilter) ([]*procurement.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.ProjectNumbers != nil && len(filter.ProjectNumbers) == 0 {
		return []*procurement.Request{}, nil
	}

	var (
		where []string
		args  []any
	)
	if len(filter.ProjectNumbers) > 0 {
		where = append(where, "project_number IN ("+placeholders(len(filter.ProjectNumbers))+")")
		for _, n := range filter.ProjectNumbers {
			args = append(args, n)
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.ExcludeStatuses) > 0 {
		where = append(where, "status NOT IN ("+placeholders(len(filter.ExcludeStatuses))+")")
		for _, st := range filter.ExcludeStatuses {
			args = append(args, string(st))
		}
	}
	if filter.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, filter.Vendor)
	}
	if filter.SourceURL != "" {
		where = append(where, "source_url = ?")
		args = append(args, filter.SourceURL)
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY request_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	requests := make([]*procurement.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, r := range requests {
		if r.History, err = loadHistory(ctx, s.db, r.ID); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// Transition applies t atomically. See the package comment.
func (s *Store) Transition(ctx context.Context, t procurement.Transition) (*procurement.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := getRequest(ctx, tx, t.RequestID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, procurement.MissingRequest(t.RequestID)
	}

	observed := r.Status
	recorded := len(r.History)
	if err := t.Apply(r); err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(r.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE requests SET
			project_number = ?, manager = ?, vendor = ?, source_url = ?,
			justification = ?, additional_info = ?, items_json = ?,
			subtotal_cents = ?, shipping_cents = ?, total_cents = ?,
			status = ?, oic = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		r.ProjectNumber, r.Manager, r.Vendor, r.SourceURL,
		r.Justification, r.AdditionalInfo, string(itemsJSON),
		r.SubtotalCents, r.ShippingCents, r.TotalCents,
		string(r.Status), int(r.OIC), formatTime(r.UpdatedAt),
		r.ID, string(observed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, &procurement.PreconditionError{RequestID: r.ID, Operation: t.Operation, Actual: observed, Expected: t.From}
	}

	for i := recorded; i < len(r.History); i++ {
		if err := insertHistory(ctx, tx, r.ID, i, r.History[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return r, nil
}

func getRequest(ctx context.Context, q querier, id string) (*procurement.Request, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.History, err = loadHistory(ctx, q, id); err != nil {
		return nil, err
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*procurement.Request, error) {
	var (
		r                    procurement.Request
		itemsJSON            string
		status               string
		oic                  int
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.RequestNumber, &r.ProjectNumber, &r.Manager, &r.Vendor, &r.SourceURL,
		&r.Justification, &r.AdditionalInfo, &itemsJSON, &r.SubtotalCents, &r.ShippingCents,
		&r.TotalCents, &status, &oic, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &r.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of request %s: %w", r.ID, err)
	}
	r.Status = procurement.Status(status)
	r.OIC = procurement.Escalation(oic)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func insertHistory(ctx context.Context, q querier, requestID string, seq int, h procurement.HistoryEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO request_history (request_id, seq, actor, comment, old_state, new_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requestID, seq, h.Actor, h.Comment, string(h.OldState), string(h.NewState), formatTime(h.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func loadHistory(ctx context.Context, q querier, requestID string) ([]procurement.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT actor, comment, old_state, new_state, created_at
		FROM request_history WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := make([]procurement.HistoryEntry, 0)
	for rows.Next() {
		var (
			h                  procurement.HistoryEntry
			oldState, newState string
			at                 string
		)
		if err := rows.Scan(&h.Actor, &h.Comment, &oldState, &newState, &at); err != nil {
			return nil, err
		}
		h.OldState = procurement.Status(oldState)
		h.NewState = procurement.Status(newState)
		h.Timestamp = parseTime(at)
		history = append(history, h)
	}
	return history, rows.Err()
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `project_number, sponsor_name, project_name, members_json,
	default_budget_cents, available_budget_cents, pending_budget_cents, status, created_at`

func (s *Store) CreateProject(ctx context.Context, p *procurement.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	membersJSON, err := json.Marshal(nonNil(p.MembersEmails))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectNumber, p.SponsorName, p.ProjectName, string(membersJSON),
		p.DefaultBudgetCents, p.AvailableBudgetCents, p.PendingBudgetCents,
		string(p.Status), formatTime(p.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("project %d: %w", p.ProjectNumber, procurement.ErrDuplicateProject)
	}
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject returns nil, nil when the project doesn't exist.
func (s *Store) GetProject(ctx context.Context, projectNumber int) (*procurement.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProject(ctx, s.db, projectNumber)
}

func (s *Store) ListProjects(ctx context.Context, filter procurement.ProjectFilter) ([]*procurement.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.ProjectNumbers != nil && len(filter.ProjectNumbers) == 0 {
		return []*procurement.Project{}, nil
	}

	var (
		where []string
		args  []any
	)
	if len(filter.ProjectNumbers) > 0 {
		where = append(where, "project_number IN ("+placeholders(len(filter.ProjectNumbers))+")")
		for _, n := range filter.ProjectNumbers {
			args = append(args, n)
		}
	}
	if filter.ActiveOnly {
		where = append(where, "status = ?")
		args = append(args, string(procurement.ProjectActive))
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY project_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*procurement.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) UpdateProjectDetails(ctx context.Context, p *procurement.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	membersJSON, err := json.Marshal(nonNil(p.MembersEmails))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET sponsor_name = ?, project_name = ?, members_json = ?, status = ?
		WHERE project_number = ?`,
		p.SponsorName, p.ProjectName, string(membersJSON), string(p.Status), p.ProjectNumber,
	)
	return expectOneRow(res, err, p.ProjectNumber)
}

func (s *Store) SetDerivedBudget(ctx context.Context, projectNumber int, availableCents, pendingCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET available_budget_cents = ?, pending_budget_cents = ?
		WHERE project_number = ?`,
		availableCents, pendingCents, projectNumber,
	)
	return expectOneRow(res, err, projectNumber)
}

func getProject(ctx context.Context, q querier, projectNumber int) (*procurement.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_number = ?`, projectNumber)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanProject(row scanner) (*procurement.Project, error) {
	var (
		p           procurement.Project
		membersJSON string
		status      string
		createdAt   string
	)
	err := row.Scan(
		&p.ProjectNumber, &p.SponsorName, &p.ProjectName, &membersJSON,
		&p.DefaultBudgetCents, &p.AvailableBudgetCents, &p.PendingBudgetCents,
		&status, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(membersJSON), &p.MembersEmails); err != nil {
		return nil, fmt.Errorf("failed to decode members of project %d: %w", p.ProjectNumber, err)
	}
	p.Status = procurement.ProjectStatus(status)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// COSTS - Append-only
// =============================================================================

// RecordCost appends a cost and, for a new budget, resets the project's
// default budget in the same transaction.
func (s *Store) RecordCost(ctx context.Context, c *procurement.Cost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	project, err := getProject(ctx, tx, c.ProjectNumber)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %d: %w", c.ProjectNumber, procurement.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO costs (id, project_number, cost_type, amount_cents, comment, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectNumber, string(c.Type), c.AmountCents, c.Comment, c.Actor, formatTime(c.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append cost: %w", err)
	}

	if c.Type == procurement.CostNewBudget {
		_, err = tx.ExecContext(ctx,
			`UPDATE projects SET default_budget_cents = ? WHERE project_number = ?`,
			c.AmountCents, c.ProjectNumber)
		if err != nil {
			return fmt.Errorf("failed to reset default budget: %w", err)
		}
	}
	return tx.Commit()
}

// ListCosts returns costs for the given projects (all when nil), oldest first.
func (s *Store) ListCosts(ctx context.Context, projectNumbers []int) ([]*procurement.Cost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if projectNumbers != nil && len(projectNumbers) == 0 {
		return []*procurement.Cost{}, nil
	}

	query := `SELECT id, project_number, cost_type, amount_cents, comment, actor, created_at FROM costs`
	var args []any
	if len(projectNumbers) > 0 {
		query += ` WHERE project_number IN (` + placeholders(len(projectNumbers)) + `)`
		for _, n := range projectNumbers {
			args = append(args, n)
		}
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}
	defer rows.Close()

	costs := make([]*procurement.Cost, 0)
	for rows.Next() {
		var (
			c       procurement.Cost
			typ, at string
		)
		if err := rows.Scan(&c.ID, &c.ProjectNumber, &typ, &c.AmountCents, &c.Comment, &c.Actor, &at); err != nil {
			return nil, err
		}
		c.Type = procurement.CostType(typ)
		c.Timestamp = parseTime(at)
		costs = append(costs, &c)
	}
	return costs, rows.Err()
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u *procurement.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projectsJSON, err := json.Marshal(nonNil(u.ProjectNumbers))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (email, role, first_name, last_name, projects_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			role = excluded.role,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			projects_json = excluded.projects_json`,
		u.Email, string(u.Role), u.FirstName, u.LastName, string(projectsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*procurement.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryUsers(ctx, `SELECT email, role, first_name, last_name, projects_json FROM users ORDER BY email`)
}

// UsersWithRole returns users with the role, restricted to a project when
// projectNumber is non-zero.
func (s *Store) UsersWithRole(ctx context.Context, role procurement.Role, projectNumber int) ([]*procurement.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users, err := s.queryUsers(ctx,
		`SELECT email, role, first_name, last_name, projects_json FROM users WHERE role = ? ORDER BY email`,
		string(role))
	if err != nil || projectNumber == 0 {
		return users, err
	}
	out := make([]*procurement.User, 0, len(users))
	for _, u := range users {
		if slices.Contains(u.ProjectNumbers, projectNumber) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]*procurement.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*procurement.User, 0)
	for rows.Next() {
		var (
			u                  procurement.User
			role, projectsJSON string
		)
		if err := rows.Scan(&u.Email, &role, &u.FirstName, &u.LastName, &projectsJSON); err != nil {
			return nil, err
		}
		u.Role = procurement.Role(role)
		if err := json.Unmarshal([]byte(projectsJSON), &u.ProjectNumbers); err != nil {
			return nil, fmt.Errorf("failed to decode projects of %s: %w", u.Email, err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// =============================================================================
// SEQUENCE
// =============================================================================

// NextRequestNumber increments and returns the request-number counter.
func (s *Store) NextRequestNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES ('request_number', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to advance request number: %w", err)
	}
	return n, nil
}

// MaxRequestNumber returns the highest request number in use, 0 when empty.
func (s *Store) MaxRequestNumber(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(request_number), 0) FROM requests`).Scan(&n)
	return n, err
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func expectOneRow(res sql.Result, err error, projectNumber int) error {
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %d: %w", projectNumber, procurement.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
