package store

import (
	"context"
	"errors"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

var (
	// ErrNotFound reports a lookup for an entry that does not exist.
	// Callers that treat absence as a fresh start must check for it with
	// errors.Is; any other lookup error means state exists but could not
	// be read.
	ErrNotFound = errors.New("entry not found")

	// ErrTerminal reports an append to an entry in a terminal status.
	ErrTerminal = errors.New("entry is terminal")
)

// EntryFilter specifies filters for listing session entries.
type EntryFilter struct {
	Address string
	Class   string
	Status  models.FunctionStatus
}

// Store defines the persistence interface for review sessions.
//
// Round history is append-only: rounds are only added, never updated or
// deleted, and each append records the entry's new status in the same
// transaction. Terminal entries are never reopened; a re-run starts a
// fresh entry and the old one stays for audit.
type Store interface {
	// Entries
	CreateEntry(ctx context.Context, e *models.SessionEntry) error
	GetEntry(ctx context.Context, id string) (*models.SessionEntry, error)
	LatestEntryByAddress(ctx context.Context, address string) (*models.SessionEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]*models.SessionEntry, error)

	// Load returns the most recent entry per function identity, rounds
	// included. This is the resume view: older superseded entries are
	// listed by ListEntries but not surfaced here.
	Load(ctx context.Context) (map[models.FunctionKey]*models.SessionEntry, error)

	// Rounds
	AppendRound(ctx context.Context, entryID string, round *models.ReviewRound, status models.FunctionStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
