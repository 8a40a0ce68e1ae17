package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Dryxio/auto-re-agent/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, so
	// concurrent review workers never hit "database is locked".
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Entries ---

func (s *SQLiteStore) CreateEntry(ctx context.Context, e *models.SessionEntry) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}
	e.Address = models.NormalizeAddress(e.Address)
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, address, class, function, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Address, e.Class, e.Function, string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*models.SessionEntry, error) {
	e := &models.SessionEntry{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, class, function, status, created_at, updated_at
		FROM entries WHERE id = ?`, id,
	).Scan(&e.ID, &e.Address, &e.Class, &e.Function, &status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	e.Status = models.FunctionStatus(status)

	if e.Rounds, err = s.loadRounds(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) LatestEntryByAddress(ctx context.Context, address string) (*models.SessionEntry, error) {
	addr := models.NormalizeAddress(address)
	e := &models.SessionEntry{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, class, function, status, created_at, updated_at
		FROM entries WHERE address = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, addr,
	).Scan(&e.ID, &e.Address, &e.Class, &e.Function, &status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no entry for address %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by address: %w", err)
	}
	e.Status = models.FunctionStatus(status)

	if e.Rounds, err = s.loadRounds(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, filter EntryFilter) ([]*models.SessionEntry, error) {
	query := `SELECT id, address, class, function, status, created_at, updated_at FROM entries`
	var conditions []string
	var args []any

	if filter.Address != "" {
		conditions = append(conditions, "address = ?")
		args = append(args, models.NormalizeAddress(filter.Address))
	}
	if filter.Class != "" {
		conditions = append(conditions, "class = ?")
		args = append(args, filter.Class)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*models.SessionEntry
	for rows.Next() {
		e := &models.SessionEntry{}
		var status string
		if err := rows.Scan(&e.ID, &e.Address, &e.Class, &e.Function, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Status = models.FunctionStatus(status)
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachRounds(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Load returns the most recent entry per function identity.
func (s *SQLiteStore) Load(ctx context.Context) (map[models.FunctionKey]*models.SessionEntry, error) {
	all, err := s.ListEntries(ctx, EntryFilter{})
	if err != nil {
		return nil, err
	}
	// ListEntries orders oldest first, so the last write per key wins.
	m := make(map[models.FunctionKey]*models.SessionEntry, len(all))
	for _, e := range all {
		m[e.Key()] = e
	}
	return m, nil
}

// --- Rounds ---

// AppendRound inserts a round and moves the entry to status in one
// transaction, so a crash can never record one without the other. Terminal
// entries reject further appends.
func (s *SQLiteStore) AppendRound(ctx context.Context, entryID string, round *models.ReviewRound, status models.FunctionStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM entries WHERE id = ?", entryID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check entry status: %w", err)
	}
	if models.FunctionStatus(current).Terminal() {
		return fmt.Errorf("entry %s is %s: %w", entryID, current, ErrTerminal)
	}

	if round.ID == "" {
		round.ID = newULID()
	}
	if round.Number == 0 {
		var next int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(number), 0) + 1 FROM rounds WHERE entry_id = ?", entryID).Scan(&next); err != nil {
			return fmt.Errorf("next round number: %w", err)
		}
		round.Number = next
	}
	if round.CreatedAt.IsZero() {
		round.CreatedAt = time.Now().UTC()
	}

	var verdictJSON sql.NullString
	if round.Verdict.Status != "" {
		data, err := json.Marshal(round.Verdict)
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		verdictJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rounds (id, entry_id, number, phase, candidate, verdict, fix_hints, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		round.ID, entryID, round.Number, string(round.Phase), round.Candidate,
		verdictJSON, round.FixHints, round.Err, round.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append round %d: %w", round.Number, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE entries SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), entryID,
	); err != nil {
		return fmt.Errorf("update entry status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadRounds(ctx context.Context, entryID string) ([]models.ReviewRound, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, phase, candidate, verdict, fix_hints, error, created_at
		FROM rounds WHERE entry_id = ? ORDER BY number`, entryID)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rounds []models.ReviewRound
	for rows.Next() {
		r := models.ReviewRound{}
		var phase string
		var verdictJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Number, &phase, &r.Candidate, &verdictJSON, &r.FixHints, &r.Err, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Phase = models.RoundPhase(phase)
		if err := decodeVerdict(verdictJSON, &r); err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// attachRounds loads round history for every listed entry in one query.
func (s *SQLiteStore) attachRounds(ctx context.Context, entries []*models.SessionEntry) error {
	if len(entries) == 0 {
		return nil
	}

	placeholders := make([]string, len(entries))
	args := make([]any, len(entries))
	byID := make(map[string]*models.SessionEntry, len(entries))
	for i, e := range entries {
		placeholders[i] = "?"
		args[i] = e.ID
		byID[e.ID] = e
	}

	query := fmt.Sprintf(
		`SELECT entry_id, id, number, phase, candidate, verdict, fix_hints, error, created_at
		FROM rounds WHERE entry_id IN (%s) ORDER BY entry_id, number`,
		strings.Join(placeholders, ","),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entryID, phase string
		r := models.ReviewRound{}
		var verdictJSON sql.NullString
		if err := rows.Scan(&entryID, &r.ID, &r.Number, &phase, &r.Candidate, &verdictJSON, &r.FixHints, &r.Err, &r.CreatedAt); err != nil {
			return fmt.Errorf("scan round: %w", err)
		}
		r.Phase = models.RoundPhase(phase)
		if err := decodeVerdict(verdictJSON, &r); err != nil {
			return err
		}
		if e, ok := byID[entryID]; ok {
			e.Rounds = append(e.Rounds, r)
		}
	}
	return rows.Err()
}

// decodeVerdict unmarshals a stored verdict column. A corrupt column is
// reported, not skipped: broken session state must reach the user.
func decodeVerdict(col sql.NullString, r *models.ReviewRound) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), &r.Verdict); err != nil {
		return fmt.Errorf("decode verdict for round %s: %w", r.ID, err)
	}
	return nil
}
