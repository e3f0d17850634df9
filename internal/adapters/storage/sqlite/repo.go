package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// runLockName names the single reconciliation lease row.
const runLockName = "reconcile"

// DefaultLockTTL bounds how long a lease from a crashed process blocks new runs.
const DefaultLockTTL = 10 * time.Minute

// defaultListLimit caps history listings when callers pass no limit.
const defaultListLimit = 50

// Repository represents repository data used by this package.
type Repository struct {
	db        *sql.DB
	runMu     sync.Mutex
	lockTTL   time.Duration
	now       func() time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Repository.
type Option func(*Repository)

// WithLockTTL sets how long a run lease stays valid before another process may take it over.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithClock overrides the clock used for lease expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Open opens the requested operation.
func Open(path string, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db, opts)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory(opts ...Option) (*Repository, error) {
	dsn := fmt.Sprintf("file:mcpcc-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newRepository(db, opts)
}

// newRepository applies options and migrates the schema.
func newRepository(db *sql.DB, opts []Option) (*Repository, error) {
	repo := &Repository{db: db, lockTTL: DefaultLockTTL, now: time.Now, closed: make(chan struct{})}
	for _, opt := range opts {
		opt(repo)
	}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			canonical_url TEXT,
			canonical_key TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',
			external_id TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_synced_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			created INTEGER NOT NULL DEFAULT 0,
			updated INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			result_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS sync_locks (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			token TEXT NOT NULL,
			acquired_at TEXT NOT NULL,
			expires_at_unix_nano INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS agent_updates (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			project_id TEXT NOT NULL,
			source TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);`,
		// Exact URLs are unique; the lookup key is not, so legacy case variants surface as ambiguity.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_canonical_url ON projects(canonical_url) WHERE canonical_url IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_projects_canonical_key ON projects(canonical_key);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_source_seq ON sync_runs(source, seq DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_updates_project_seq ON agent_updates(project_id, seq DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// projectColumns lists the projects columns in scan order.
const projectColumns = `id, canonical_url, name, description, tags_json, external_id, metadata_json, created_at, updated_at, last_synced_at`

// InsertProject creates project.
func (r *Repository) InsertProject(ctx context.Context, p domain.Project) error {
	tagsJSON, metaJSON, err := encodeProjectJSON(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects(id, canonical_url, canonical_key, name, description, tags_json, external_id, metadata_json, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, nullableText(p.CanonicalURL), p.MatchKey(), p.Name, p.Description, tagsJSON, p.ExternalID, metaJSON, ts(p.CreatedAt), ts(p.UpdatedAt), nullableTS(p.LastSyncedAt))
	if err != nil {
		return translateWriteErr("insert project", p.ID, err)
	}
	return nil
}

// UpdateProject updates state for the requested operation.
func (r *Repository) UpdateProject(ctx context.Context, p domain.Project) error {
	tagsJSON, metaJSON, err := encodeProjectJSON(p)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET canonical_url = ?, canonical_key = ?, name = ?, description = ?, tags_json = ?, external_id = ?, metadata_json = ?, updated_at = ?, last_synced_at = ?
		WHERE id = ?
	`, nullableText(p.CanonicalURL), p.MatchKey(), p.Name, p.Description, tagsJSON, p.ExternalID, metaJSON, ts(p.UpdatedAt), nullableTS(p.LastSyncedAt), p.ID)
	if err != nil {
		return translateWriteErr("update project", p.ID, err)
	}
	return translateNoRows(res)
}

// FindProjectsByCanonicalURL returns every project whose URL matches url case-insensitively.
func (r *Repository) FindProjectsByCanonicalURL(ctx context.Context, url string) ([]domain.Project, error) {
	key := domain.CanonicalKey(url)
	if key == "" {
		return []domain.Project{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE canonical_key = ?
		ORDER BY created_at ASC, id ASC
	`, key)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// GetProject returns project.
func (r *Repository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = ?
	`, id)
	return scanProject(row)
}

// ListProjects lists projects.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanProjects(rows)
}

// AcquireRunLock takes the process-local run mutex and the shared lease row.
// An unexpired lease held by anyone else fails with app.ErrRunInProgress.
// The lease is extended every TTL/3 until release.
func (r *Repository) AcquireRunLock(ctx context.Context, owner string) (func() error, error) {
	if !r.runMu.TryLock() {
		return nil, app.ErrRunInProgress
	}
	now := r.now().UTC()
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_locks(name, owner, token, acquired_at, expires_at_unix_nano)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			token = excluded.token,
			acquired_at = excluded.acquired_at,
			expires_at_unix_nano = excluded.expires_at_unix_nano
		WHERE sync_locks.expires_at_unix_nano <= ?
	`, runLockName, owner, token, ts(now), now.Add(r.lockTTL).UnixNano(), now.UnixNano())
	if err != nil {
		r.runMu.Unlock()
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		r.runMu.Unlock()
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if affected == 0 {
		r.runMu.Unlock()
		return nil, fmt.Errorf("lease held by another process: %w", app.ErrRunInProgress)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renewLease(token, stop, done)

	var once sync.Once
	var releaseErr error
	release := func() error {
		once.Do(func() {
			defer r.runMu.Unlock()
			close(stop)
			<-done
			_, err := r.db.ExecContext(context.Background(), `DELETE FROM sync_locks WHERE name = ? AND token = ?`, runLockName, token)
			if err != nil {
				releaseErr = fmt.Errorf("release sync lock: %w", err)
			}
		})
		return releaseErr
	}
	return release, nil
}

// renewLease pushes the lease expiry forward while the holder still owns token.
func (r *Repository) renewLease(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.lockTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-r.closed:
			return
		case <-ticker.C:
			// Failures retry on the next tick.
			_, _ = r.db.ExecContext(context.Background(), `
				UPDATE sync_locks SET expires_at_unix_nano = ?
				WHERE name = ? AND token = ?
			`, r.now().UTC().Add(r.lockTTL).UnixNano(), runLockName, token)
		}
	}
}

// ReportSync stores one completed run in the sync history.
func (r *Repository) ReportSync(ctx context.Context, run domain.SyncRun) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("sync run id is required: %w", app.ErrInvalidInput)
	}
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode sync result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_runs(id, source, started_at, finished_at, created, updated, skipped, error_count, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, ts(run.StartedAt), ts(run.FinishedAt), run.Result.Created, run.Result.Updated, run.Result.Skipped, len(run.Result.Errors), string(resultJSON))
	if err != nil {
		return translateWriteErr("insert sync run", run.ID, err)
	}
	return nil
}

// ListSyncRuns lists the newest runs first, optionally filtered by source.
func (r *Repository) ListSyncRuns(ctx context.Context, source string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, source, started_at, finished_at, result_json
		FROM sync_runs
	`
	args := []any{}
	if source = strings.TrimSpace(source); source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SyncRun{}
	for rows.Next() {
		var (
			run         domain.SyncRun
			startedRaw  string
			finishedRaw string
			resultRaw   string
		)
		if err := rows.Scan(&run.ID, &run.Source, &startedRaw, &finishedRaw, &resultRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultRaw), &run.Result); err != nil {
			return nil, fmt.Errorf("decode sync run result_json: %w", err)
		}
		if run.Result.Errors == nil {
			run.Result.Errors = []domain.SyncError{}
		}
		run.StartedAt = parseTS(startedRaw)
		run.FinishedAt = parseTS(finishedRaw)
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreateAgentUpdate creates agent update.
func (r *Repository) CreateAgentUpdate(ctx context.Context, u domain.AgentUpdate) error {
	payloadJSON, err := json.Marshal(u.Payload)
	if err != nil {
		return fmt.Errorf("encode agent update payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_updates(id, project_id, source, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.ProjectID, string(u.Source), string(payloadJSON), ts(u.CreatedAt))
	if err != nil {
		if isForeignKeyErr(err) {
			return fmt.Errorf("project %q: %w", u.ProjectID, app.ErrNotFound)
		}
		return translateWriteErr("insert agent update", u.ID, err)
	}
	return nil
}

// ListAgentUpdates lists the newest updates for one project first.
func (r *Repository) ListAgentUpdates(ctx context.Context, projectID string, limit int) ([]domain.AgentUpdate, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, source, payload_json, created_at
		FROM agent_updates
		WHERE project_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AgentUpdate{}
	for rows.Next() {
		var (
			u          domain.AgentUpdate
			source     string
			payloadRaw string
			createdRaw string
		)
		if err := rows.Scan(&u.ID, &u.ProjectID, &source, &payloadRaw, &createdRaw); err != nil {
			return nil, err
		}
		if err := decodeObject(payloadRaw, &u.Payload); err != nil {
			return nil, fmt.Errorf("decode agent update payload_json: %w", err)
		}
		u.Source = domain.UpdateSource(source)
		u.CreatedAt = parseTS(createdRaw)
		out = append(out, u)
	}
	return out, rows.Err()
}

// scanner describes scanner behavior required by callers.
type scanner interface {
	Scan(dest ...any) error
}

// scanProjects drains rows into projects.
func scanProjects(rows *sql.Rows) ([]domain.Project, error) {
	defer rows.Close()
	out := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanProject handles scan project.
func scanProject(s scanner) (domain.Project, error) {
	var (
		p           domain.Project
		urlRaw      sql.NullString
		tagsRaw     string
		metadataRaw string
		createdRaw  string
		updatedRaw  string
		syncedRaw   sql.NullString
	)
	if err := s.Scan(&p.ID, &urlRaw, &p.Name, &p.Description, &tagsRaw, &p.ExternalID, &metadataRaw, &createdRaw, &updatedRaw, &syncedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Project{}, app.ErrNotFound
		}
		return domain.Project{}, err
	}
	if urlRaw.Valid {
		p.CanonicalURL = urlRaw.String
	}
	if strings.TrimSpace(tagsRaw) == "" {
		tagsRaw = "[]"
	}
	if err := json.Unmarshal([]byte(tagsRaw), &p.Tags); err != nil {
		return domain.Project{}, fmt.Errorf("decode project tags_json: %w", err)
	}
	if err := decodeObject(metadataRaw, &p.SourceMetadata); err != nil {
		return domain.Project{}, fmt.Errorf("decode project metadata_json: %w", err)
	}
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	p.LastSyncedAt = parseNullTS(syncedRaw)
	return p, nil
}

// encodeProjectJSON encodes the JSON columns of one project.
func encodeProjectJSON(p domain.Project) (string, string, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode project tags: %w", err)
	}
	meta := p.SourceMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode project metadata: %w", err)
	}
	return string(tagsJSON), string(metaJSON), nil
}

// decodeObject decodes one JSON object column, treating blanks as empty.
func decodeObject(raw string, dst *map[string]any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = map[string]any{}
	}
	return nil
}

// translateWriteErr maps uniqueness violations onto app.ErrPersistenceConflict.
func translateWriteErr(op, id string, err error) error {
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("%s %s: %w: %v", op, id, app.ErrPersistenceConflict, err)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableText stores empty strings as NULL so partial unique indexes skip them.
func nullableText(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

// isUniqueConstraintErr reports whether err is a UNIQUE or PRIMARY KEY violation.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// isForeignKeyErr reports whether err is a FOREIGN KEY violation.
func isForeignKeyErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
