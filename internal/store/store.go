// Package store is the persistence layer: duplicate groups and their member
// files, cleaner jobs, and review sessions, all over a single SQLite handle.
//
// Mutating helpers take a DBTX so callers can compose several of them inside
// one transaction; a status change and the row updates it implies always
// commit together or not at all.
package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/eargollo/keeper/internal/status"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when an optimistic-concurrency update lost
// the race: the group row changed under us since it was loaded.
var ErrVersionConflict = errors.New("group was modified concurrently")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles all persistence operations over one database handle.
type Store struct {
	db *sql.DB
}

// New creates a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that manage their own
// transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// DuplicateGroup is a set of indexed files sharing one content hash.
type DuplicateGroup struct {
	ID              int64
	ContentHash     string
	FileCount       int
	TotalSize       int64
	Status          status.GroupStatus
	KeptFileID      *int64
	ValidatedAt     *int64
	CreatedAt       int64
	LastReviewedAt  *int64
	ReviewOrder     *int64
	ReviewSessionID *int64
	Version         int64
}

// IndexedFile is a file record supplied by the upstream scanning pipeline.
// This layer only mutates the duplicate-linkage and deletion fields.
type IndexedFile struct {
	ID               int64
	FilePath         string
	FileHash         string
	FileSize         int64
	TakenAt          *int64
	IsDuplicate      bool
	DuplicateGroupID *int64
	IsDeleted        bool
	DeletedAt        *int64
	ArchivePath      *string
	ThumbnailPath    *string
}

// CleanerJob tracks one batch of delete commands dispatched to agents.
type CleanerJob struct {
	ID             int64
	Status         status.JobStatus
	Category       string
	DryRun         bool
	TotalFiles     int
	ProcessedFiles int
	SucceededFiles int
	FailedFiles    int
	SkippedFiles   int
	CreatedAt      int64
	StartedAt      *int64
	CompletedAt    *int64
}

// CleanerJobFile is one target file inside a cleaner job.
type CleanerJobFile struct {
	ID           int64
	JobID        int64
	FileID       int64
	GroupID      int64
	FilePath     string
	FileHash     string
	FileSize     int64
	Status       status.JobFileStatus
	ArchivePath  *string
	ErrorMessage *string
	ProcessedAt  *int64
}

// SelectionSession is one human review pass over the unresolved groups.
type SelectionSession struct {
	ID              int64
	Status          status.SessionStatus
	TotalGroups     int
	GroupsProposed  int
	GroupsValidated int
	GroupsSkipped   int
	CreatedAt       int64
	ResumedAt       *int64
	LastActivityAt  int64
}

// nullInt64 converts a nullable column into *int64.
func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// nullString converts a nullable column into *string.
func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Arg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
