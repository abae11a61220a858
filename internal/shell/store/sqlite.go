package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/launchpadhq/launchpad/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite allows a single writer; a second pooled connection would also
	// see a different database entirely when using the :memory: DSN.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Project Operations
// =============================================================================

type projectRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	Name      string `db:"name"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.db, id)
}

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	query := `
		INSERT INTO projects (id, owner_id, name, created_at, updated_at)
		VALUES (:id, :owner_id, :name, :created_at, :updated_at)`

	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id":         project.ID,
		"owner_id":   project.OwnerID,
		"name":       project.Name,
		"created_at": project.CreatedAt.Format(time.RFC3339),
		"updated_at": project.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateProject", "project", project.ID, "project with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateProject", "project", project.ID, err.Error(), err)
	}
	return nil
}

func getProject(ctx context.Context, exec executor, id string) (*domain.Project, error) {
	var row projectRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM projects WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", id, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", id, err.Error(), err)
	}

	return &domain.Project{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}, nil
}

// =============================================================================
// Configuration Operations
// =============================================================================

type configurationRow struct {
	ID        string `db:"id"`
	ProjectID string `db:"project_id"`
	Accounts  string `db:"accounts"`
	EnvVars   string `db:"env_vars"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) CreateConfiguration(ctx context.Context, cfg *domain.ProjectConfiguration) error {
	return createConfiguration(ctx, s.db, cfg)
}

func (s *SQLiteStore) GetConfiguration(ctx context.Context, id string) (*domain.ProjectConfiguration, error) {
	return getConfiguration(ctx, s.db, id)
}

func (s *SQLiteStore) GetConfigurationByProject(ctx context.Context, projectID string) (*domain.ProjectConfiguration, error) {
	return getConfigurationByProject(ctx, s.db, projectID)
}

func createConfiguration(ctx context.Context, exec executor, cfg *domain.ProjectConfiguration) error {
	accountsJSON, err := json.Marshal(cfg.Accounts)
	if err != nil {
		return NewStoreError("CreateConfiguration", "configuration", cfg.ID, "failed to serialize accounts", ErrInvalidData)
	}
	envVarsJSON, err := json.Marshal(cfg.EnvVars)
	if err != nil {
		return NewStoreError("CreateConfiguration", "configuration", cfg.ID, "failed to serialize env vars", ErrInvalidData)
	}

	query := `
		INSERT INTO project_configurations (id, project_id, accounts, env_vars, created_at, updated_at)
		VALUES (:id, :project_id, :accounts, :env_vars, :created_at, :updated_at)`

	_, err = exec.NamedExecContext(ctx, query, map[string]any{
		"id":         cfg.ID,
		"project_id": cfg.ProjectID,
		"accounts":   string(accountsJSON),
		"env_vars":   string(envVarsJSON),
		"created_at": cfg.CreatedAt.Format(time.RFC3339),
		"updated_at": cfg.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateConfiguration", "configuration", cfg.ID, "configuration with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateConfiguration", "configuration", cfg.ID, err.Error(), err)
	}
	return nil
}

func getConfiguration(ctx context.Context, exec executor, id string) (*domain.ProjectConfiguration, error) {
	var row configurationRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM project_configurations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetConfiguration", "configuration", id, "configuration not found", ErrNotFound)
		}
		return nil, NewStoreError("GetConfiguration", "configuration", id, err.Error(), err)
	}
	return rowToConfiguration(&row)
}

// getConfigurationByProject returns the most recent configuration for a
// project.
func getConfigurationByProject(ctx context.Context, exec executor, projectID string) (*domain.ProjectConfiguration, error) {
	var row configurationRow
	err := exec.GetContext(ctx, &row,
		`SELECT * FROM project_configurations WHERE project_id = ? ORDER BY created_at DESC LIMIT 1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetConfigurationByProject", "configuration", projectID, "configuration not found", ErrNotFound)
		}
		return nil, NewStoreError("GetConfigurationByProject", "configuration", projectID, err.Error(), err)
	}
	return rowToConfiguration(&row)
}

func rowToConfiguration(row *configurationRow) (*domain.ProjectConfiguration, error) {
	cfg := &domain.ProjectConfiguration{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.Accounts), &cfg.Accounts); err != nil {
		return nil, NewStoreError("GetConfiguration", "configuration", row.ID, "failed to parse accounts", ErrInvalidData)
	}
	if err := json.Unmarshal([]byte(row.EnvVars), &cfg.EnvVars); err != nil {
		return nil, NewStoreError("GetConfiguration", "configuration", row.ID, "failed to parse env vars", ErrInvalidData)
	}
	return cfg, nil
}

// =============================================================================
// Deployment Operations
// =============================================================================

type deploymentRow struct {
	ID              string  `db:"id"`
	ProjectID       string  `db:"project_id"`
	ConfigurationID string  `db:"configuration_id"`
	OwnerID         string  `db:"owner_id"`
	Environment     string  `db:"environment"`
	Branch          string  `db:"branch"`
	Status          string  `db:"status"`
	SelectedAccount *string `db:"selected_account"`
	WorkflowRunID   *int64  `db:"workflow_run_id"`
	DeploymentURL   string  `db:"deployment_url"`
	ErrorMessage    string  `db:"error_message"`
	RetryCount      int     `db:"retry_count"`
	Version         int64   `db:"version"`
	CreatedAt       string  `db:"created_at"`
	UpdatedAt       string  `db:"updated_at"`
	CompletedAt     *string `db:"completed_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, filter, opts)
}

func (s *SQLiteStore) ListRunningDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, DeploymentFilter{Status: domain.StatusRunning}, ListOptions{Limit: limit})
}

func createDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	row, err := deploymentToRow(d)
	if err != nil {
		return NewStoreError("CreateDeployment", "deployment", d.ID, "failed to serialize deployment", ErrInvalidData)
	}

	query := `
		INSERT INTO deployments (
			id, project_id, configuration_id, owner_id, environment, branch,
			status, selected_account, workflow_run_id, deployment_url,
			error_message, retry_count, version, created_at, updated_at, completed_at
		) VALUES (
			:id, :project_id, :configuration_id, :owner_id, :environment, :branch,
			:status, :selected_account, :workflow_run_id, :deployment_url,
			:error_message, :retry_count, :version, :created_at, :updated_at, :completed_at
		)`

	d.Version = 1
	row["version"] = 1
	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateDeployment", "deployment", d.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", d.ID, err.Error(), err)
	}
	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.Deployment, error) {
	var row deploymentRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}
	return rowToDeployment(&row)
}

// updateDeployment persists the deployment guarded by its version: the write
// only lands if no concurrent writer bumped the version first.
func updateDeployment(ctx context.Context, exec executor, d *domain.Deployment) error {
	row, err := deploymentToRow(d)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "failed to serialize deployment", ErrInvalidData)
	}
	row["expected_version"] = d.Version
	row["version"] = d.Version + 1

	query := `
		UPDATE deployments SET
			status = :status,
			selected_account = :selected_account,
			workflow_run_id = :workflow_run_id,
			deployment_url = :deployment_url,
			error_message = :error_message,
			retry_count = :retry_count,
			version = :version,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id AND version = :expected_version`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", d.ID, err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		// Distinguish a missing row from a lost optimistic race.
		var exists int
		if gerr := exec.GetContext(ctx, &exists, `SELECT COUNT(*) FROM deployments WHERE id = ?`, d.ID); gerr == nil && exists == 0 {
			return NewStoreError("UpdateDeployment", "deployment", d.ID, "deployment not found", ErrNotFound)
		}
		return NewStoreError("UpdateDeployment", "deployment", d.ID, "deployment was modified concurrently", ErrVersionConflict)
	}

	d.Version++
	return nil
}

func listDeployments(ctx context.Context, exec executor, filter DeploymentFilter, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()

	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, string(filter.Environment))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Branch != "" {
		where = append(where, "branch = ?")
		args = append(args, filter.Branch)
	}

	query := `SELECT * FROM deployments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", opts.Limit, opts.Offset)

	var rows []deploymentRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for i := range rows {
		d, err := rowToDeployment(&rows[i])
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, nil
}

func deploymentToRow(d *domain.Deployment) (map[string]any, error) {
	var selectedAccount *string
	if d.SelectedAccount != nil {
		data, err := json.Marshal(d.SelectedAccount)
		if err != nil {
			return nil, err
		}
		s := string(data)
		selectedAccount = &s
	}

	var completedAt *string
	if d.CompletedAt != nil {
		s := d.CompletedAt.Format(time.RFC3339)
		completedAt = &s
	}

	return map[string]any{
		"id":               d.ID,
		"project_id":       d.ProjectID,
		"configuration_id": d.ConfigurationID,
		"owner_id":         d.OwnerID,
		"environment":      string(d.Environment),
		"branch":           d.Branch,
		"status":           string(d.Status),
		"selected_account": selectedAccount,
		"workflow_run_id":  d.WorkflowRunID,
		"deployment_url":   d.DeploymentURL,
		"error_message":    d.ErrorMessage,
		"retry_count":      d.RetryCount,
		"version":          d.Version,
		"created_at":       d.CreatedAt.Format(time.RFC3339),
		"updated_at":       d.UpdatedAt.Format(time.RFC3339),
		"completed_at":     completedAt,
	}, nil
}

func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	d := &domain.Deployment{
		ID:              row.ID,
		ProjectID:       row.ProjectID,
		ConfigurationID: row.ConfigurationID,
		OwnerID:         row.OwnerID,
		Environment:     domain.Environment(row.Environment),
		Branch:          row.Branch,
		Status:          domain.DeploymentStatus(row.Status),
		WorkflowRunID:   row.WorkflowRunID,
		DeploymentURL:   row.DeploymentURL,
		ErrorMessage:    row.ErrorMessage,
		RetryCount:      row.RetryCount,
		Version:         row.Version,
		CreatedAt:       parseTime(row.CreatedAt),
		UpdatedAt:       parseTime(row.UpdatedAt),
	}

	if row.SelectedAccount != nil && *row.SelectedAccount != "" {
		var snapshot domain.AccountSnapshot
		if err := json.Unmarshal([]byte(*row.SelectedAccount), &snapshot); err != nil {
			return nil, NewStoreError("GetDeployment", "deployment", row.ID, "failed to parse selected account", ErrInvalidData)
		}
		d.SelectedAccount = &snapshot
	}
	if row.CompletedAt != nil && *row.CompletedAt != "" {
		t := parseTime(*row.CompletedAt)
		d.CompletedAt = &t
	}
	return d, nil
}

// =============================================================================
// Pool State Operations
// =============================================================================

type poolStateRow struct {
	ConfigurationID string `db:"configuration_id"`
	Entries         string `db:"entries"`
	Version         int64  `db:"version"`
	UpdatedAt       string `db:"updated_at"`
}

func (s *SQLiteStore) GetPoolState(ctx context.Context, configurationID string) (*PoolState, error) {
	return getPoolState(ctx, s.db, configurationID)
}

func (s *SQLiteStore) SavePoolState(ctx context.Context, state *PoolState) error {
	return savePoolState(ctx, s.db, state)
}

func getPoolState(ctx context.Context, exec executor, configurationID string) (*PoolState, error) {
	var row poolStateRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM account_pool_state WHERE configuration_id = ?`, configurationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPoolState", "pool_state", configurationID, "pool state not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPoolState", "pool_state", configurationID, err.Error(), err)
	}

	state := &PoolState{
		ConfigurationID: row.ConfigurationID,
		Version:         row.Version,
		UpdatedAt:       parseTime(row.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(row.Entries), &state.Entries); err != nil {
		return nil, NewStoreError("GetPoolState", "pool_state", configurationID, "failed to parse entries", ErrInvalidData)
	}
	return state, nil
}

// savePoolState writes the pool record with compare-and-swap semantics:
// version 0 inserts, anything else must match the stored version.
func savePoolState(ctx context.Context, exec executor, state *PoolState) error {
	entriesJSON, err := json.Marshal(state.Entries)
	if err != nil {
		return NewStoreError("SavePoolState", "pool_state", state.ConfigurationID, "failed to serialize entries", ErrInvalidData)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if state.Version == 0 {
		query := `
			INSERT INTO account_pool_state (configuration_id, entries, version, updated_at)
			VALUES (?, ?, 1, ?)`
		if _, err := exec.ExecContext(ctx, query, state.ConfigurationID, string(entriesJSON), now); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return NewStoreError("SavePoolState", "pool_state", state.ConfigurationID, "pool state was created concurrently", ErrVersionConflict)
			}
			return NewStoreError("SavePoolState", "pool_state", state.ConfigurationID, err.Error(), err)
		}
		state.Version = 1
		return nil
	}

	query := `
		UPDATE account_pool_state
		SET entries = ?, version = version + 1, updated_at = ?
		WHERE configuration_id = ? AND version = ?`
	result, err := exec.ExecContext(ctx, query, string(entriesJSON), now, state.ConfigurationID, state.Version)
	if err != nil {
		return NewStoreError("SavePoolState", "pool_state", state.ConfigurationID, err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewStoreError("SavePoolState", "pool_state", state.ConfigurationID, "pool state was modified concurrently", ErrVersionConflict)
	}
	state.Version++
	return nil
}

// =============================================================================
// Deployment Event Operations
// =============================================================================

type eventRow struct {
	ID           string  `db:"id"`
	DeploymentID string  `db:"deployment_id"`
	EventType    string  `db:"event_type"`
	Detail       string  `db:"detail"`
	CreatedAt    string  `db:"created_at"`
	PublishedAt  *string `db:"published_at"`
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return appendEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.db, `SELECT * FROM deployment_events WHERE deployment_id = ? ORDER BY created_at ASC, rowid ASC`, deploymentID)
}

func (s *SQLiteStore) ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return listEvents(ctx, s.db, `SELECT * FROM deployment_events WHERE published_at IS NULL ORDER BY created_at ASC, rowid ASC LIMIT ?`, limit)
}

func (s *SQLiteStore) MarkEventsPublished(ctx context.Context, ids []string, publishedAt time.Time) error {
	return markEventsPublished(ctx, s.db, ids, publishedAt)
}

func appendEvent(ctx context.Context, exec executor, event *domain.DeploymentEvent) error {
	query := `
		INSERT INTO deployment_events (id, deployment_id, event_type, detail, created_at, published_at)
		VALUES (:id, :deployment_id, :event_type, :detail, :created_at, NULL)`

	_, err := exec.NamedExecContext(ctx, query, map[string]any{
		"id":            event.ID,
		"deployment_id": event.DeploymentID,
		"event_type":    string(event.Type),
		"detail":        event.Detail,
		"created_at":    event.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return NewStoreError("AppendEvent", "event", event.ID, err.Error(), err)
	}
	return nil
}

func listEvents(ctx context.Context, exec executor, query string, args ...any) ([]domain.DeploymentEvent, error) {
	var rows []eventRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListEvents", "event", "", err.Error(), err)
	}

	events := make([]domain.DeploymentEvent, 0, len(rows))
	for _, row := range rows {
		ev := domain.DeploymentEvent{
			ID:           row.ID,
			DeploymentID: row.DeploymentID,
			Type:         domain.EventType(row.EventType),
			Detail:       row.Detail,
			CreatedAt:    parseTime(row.CreatedAt),
		}
		if row.PublishedAt != nil && *row.PublishedAt != "" {
			t := parseTime(*row.PublishedAt)
			ev.PublishedAt = &t
		}
		events = append(events, ev)
	}
	return events, nil
}

func markEventsPublished(ctx context.Context, exec executor, ids []string, publishedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids)+1)
	args[0] = publishedAt.UTC().Format(time.RFC3339)
	for i, id := range ids {
		placeholders[i] = "?"
		args[i+1] = id
	}
	query := fmt.Sprintf("UPDATE deployment_events SET published_at = ? WHERE id IN (%s)",
		strings.Join(placeholders, ","))
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return NewStoreError("MarkEventsPublished", "event", "", err.Error(), err)
	}
	return nil
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return getProject(ctx, s.tx, id)
}

func (s *txSQLiteStore) CreateConfiguration(ctx context.Context, cfg *domain.ProjectConfiguration) error {
	return createConfiguration(ctx, s.tx, cfg)
}

func (s *txSQLiteStore) GetConfiguration(ctx context.Context, id string) (*domain.ProjectConfiguration, error) {
	return getConfiguration(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetConfigurationByProject(ctx context.Context, projectID string) (*domain.ProjectConfiguration, error) {
	return getConfigurationByProject(ctx, s.tx, projectID)
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, filter DeploymentFilter, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, filter, opts)
}

func (s *txSQLiteStore) ListRunningDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, DeploymentFilter{Status: domain.StatusRunning}, ListOptions{Limit: limit})
}

func (s *txSQLiteStore) GetPoolState(ctx context.Context, configurationID string) (*PoolState, error) {
	return getPoolState(ctx, s.tx, configurationID)
}

func (s *txSQLiteStore) SavePoolState(ctx context.Context, state *PoolState) error {
	return savePoolState(ctx, s.tx, state)
}

func (s *txSQLiteStore) AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error {
	return appendEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEventsByDeployment(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	return listEvents(ctx, s.tx, `SELECT * FROM deployment_events WHERE deployment_id = ? ORDER BY created_at ASC, rowid ASC`, deploymentID)
}

func (s *txSQLiteStore) ListUnpublishedEvents(ctx context.Context, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return listEvents(ctx, s.tx, `SELECT * FROM deployment_events WHERE published_at IS NULL ORDER BY created_at ASC, rowid ASC LIMIT ?`, limit)
}

func (s *txSQLiteStore) MarkEventsPublished(ctx context.Context, ids []string, publishedAt time.Time) error {
	return markEventsPublished(ctx, s.tx, ids, publishedAt)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseTime parses stored timestamps, accepting both RFC3339 and the SQLite
// datetime format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// compile-time interface checks
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*txSQLiteStore)(nil)
)
