package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Sink writes review artifacts under the output directory: accepted
// candidates to code/, per-round JSON logs to logs/. The session store stays
// the source of truth; these files exist so results can be read without
// opening the database.
type Sink struct {
	dir string
}

// NewSink creates a sink rooted at dir.
func NewSink(dir string) *Sink {
	return &Sink{dir: dir}
}

// CandidatePath returns where an accepted candidate for key lands.
func (s *Sink) CandidatePath(key models.FunctionKey) string {
	return filepath.Join(s.dir, "code", artifactName(key)+".cpp")
}

// WriteCandidate writes an accepted candidate via temp file and rename, so a
// crash mid-write never leaves a truncated .cpp behind.
func (s *Sink) WriteCandidate(key models.FunctionKey, text string) (string, error) {
	path := s.CandidatePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create code dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".candidate-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write candidate: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync candidate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close candidate: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename candidate: %w", err)
	}
	return path, nil
}

type roundLog struct {
	EntryID   string                `json:"entry_id"`
	Address   string                `json:"address"`
	Class     string                `json:"class,omitempty"`
	Function  string                `json:"function,omitempty"`
	Number    int                   `json:"number"`
	Phase     models.RoundPhase     `json:"phase"`
	Status    models.FunctionStatus `json:"status"`
	Verdict   *models.ParityVerdict `json:"verdict,omitempty"`
	Err       string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// LogRound appends one JSON line for the round to the function's log file.
// Candidate text is not duplicated here; it lives in the store and, once
// accepted, under code/.
func (s *Sink) LogRound(entry *models.SessionEntry, round models.ReviewRound, status models.FunctionStatus) error {
	dir := filepath.Join(s.dir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	path := filepath.Join(dir, artifactName(entry.Key())+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open round log: %w", err)
	}
	defer func() { _ = f.Close() }()

	rec := roundLog{
		EntryID:   entry.ID,
		Address:   entry.Address,
		Class:     entry.Class,
		Function:  entry.Function,
		Number:    round.Number,
		Phase:     round.Phase,
		Status:    status,
		Err:       round.Err,
		CreatedAt: round.CreatedAt,
	}
	if round.Verdict.Status != "" {
		v := round.Verdict
		rec.Verdict = &v
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("write round log: %w", err)
	}
	return nil
}

// artifactName flattens a function identity into a filesystem-safe stem,
// e.g. 006f5900_CEntity_Render. Operators and template brackets become
// underscores.
func artifactName(key models.FunctionKey) string {
	parts := []string{models.NormalizeAddress(key.Address)}
	if key.Class != "" {
		parts = append(parts, sanitize(key.Class))
	}
	if key.Function != "" {
		parts = append(parts, sanitize(key.Function))
	}
	return strings.Join(parts, "_")
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
