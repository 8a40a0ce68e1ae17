// Package hooks reads the project's exported hook table, the CSV that maps
// binary addresses to the class and function hooked at each one. The table
// is the work list for batch parity runs and class reviews.
package hooks

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Registry is the parsed hook table.
type Registry struct {
	Entries []models.HookEntry
	byAddr  map[string]models.HookEntry
}

// Read parses a hook CSV from r. Expected columns: address, class, function;
// extra columns are ignored. A header row is detected and skipped. Rows with
// an unparseable address are skipped and reported in the returned warnings.
func Read(r io.Reader) (*Registry, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	reg := &Registry{byAddr: make(map[string]models.HookEntry)}
	var warnings []string

	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, warnings, fmt.Errorf("read hook csv: %w", err)
		}
		line++

		if len(rec) < 3 {
			warnings = append(warnings, fmt.Sprintf("line %d: want at least 3 columns, got %d", line, len(rec)))
			continue
		}
		addr := strings.TrimSpace(rec[0])
		if line == 1 && !models.ValidAddress(addr) {
			// Header row.
			continue
		}
		if !models.ValidAddress(addr) {
			warnings = append(warnings, fmt.Sprintf("line %d: bad address %q", line, addr))
			continue
		}

		entry := models.HookEntry{
			Address:  models.NormalizeAddress(addr),
			Class:    strings.TrimSpace(rec[1]),
			Function: strings.TrimSpace(rec[2]),
		}
		if prev, ok := reg.byAddr[entry.Address]; ok {
			if prev != entry {
				warnings = append(warnings, fmt.Sprintf("line %d: address %s already mapped to %s", line, models.FormatAddress(entry.Address), prev.Key().QualifiedName()))
			}
			continue
		}
		reg.byAddr[entry.Address] = entry
		reg.Entries = append(reg.Entries, entry)
	}

	return reg, warnings, nil
}

// ReadFile reads a hook CSV from disk.
func ReadFile(path string) (*Registry, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open hook csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// ByAddress looks up a hook by address in any accepted format.
func (r *Registry) ByAddress(addr string) (models.HookEntry, bool) {
	e, ok := r.byAddr[models.NormalizeAddress(addr)]
	return e, ok
}

// ForClass returns the hooks for one class, sorted by address.
func (r *Registry) ForClass(class string) []models.HookEntry {
	var out []models.HookEntry
	for _, e := range r.Entries {
		if e.Class == class {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Classes returns the distinct class names in the table, sorted.
func (r *Registry) Classes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.Entries {
		if e.Class != "" && !seen[e.Class] {
			seen[e.Class] = true
			out = append(out, e.Class)
		}
	}
	sort.Strings(out)
	return out
}
