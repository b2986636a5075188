// Package persistence keeps a SQLite history of workflow runs and task
// outcomes. The history is for inspection only; nothing is re-queued from it.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Step states recorded in the history.
const (
	StepSubmitted = "submitted"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Task outcome states recorded in the history.
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// WorkflowRecord is the stored summary of one workflow run.
type WorkflowRecord struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	State       string       `json:"state"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Steps       []StepRecord `json:"steps,omitempty"` // Only filled by GetWorkflow
}

// StepRecord is the latest known state of one step of a workflow run.
type StepRecord struct {
	WorkflowID string    `json:"workflow_id"`
	Step       string    `json:"step"`
	Module     string    `json:"module,omitempty"`
	TaskID     string    `json:"task_id"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	Result     string    `json:"result,omitempty"` // JSON encoded
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TaskRecord is one settled scheduler task.
type TaskRecord struct {
	TaskID     string        `json:"task_id"`
	State      string        `json:"state"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Store defines the run-history persistence interface.
type Store interface {
	// Workflow runs
	SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context, limit int) ([]*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Steps
	SaveStep(ctx context.Context, step *StepRecord) error

	// Task outcomes
	RecordTask(ctx context.Context, rec *TaskRecord) error
	ListTasks(ctx context.Context, prefix string) ([]TaskRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite ignores _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store. Every call gets its own
// database, shared by the connections of that store.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
