// Package index scans a source tree for hook install sites and extracts a
// FunctionRecord for every hooked function: identity, body text, and the
// structural features the parity signals consume. Indexing is pure over the
// tree contents; re-indexing an unchanged tree yields identical records.
package index

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Dryxio/auto-re-agent/internal/config"
	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Warning records a file the indexer skipped without aborting the pass.
type Warning struct {
	File string
	Err  string
}

// Ambiguity records an address bound by more than one install site. The
// first site wins the record; the rest are preserved here so a reviewer can
// resolve the collision instead of the indexer guessing.
type Ambiguity struct {
	Address string
	Sites   []string // "file: Class::Function" per binding, in scan order
}

// Result is one indexing pass over a tree.
type Result struct {
	Records     map[models.FunctionKey]*models.FunctionRecord
	Warnings    []Warning
	Ambiguities []Ambiguity
}

// Find returns the record for a qualified name, ignoring the address
// component of the key.
func (r *Result) Find(class, function string) (*models.FunctionRecord, bool) {
	for k, rec := range r.Records {
		if k.Class == class && k.Function == function {
			return rec, true
		}
	}
	return nil, false
}

// ByAddress returns the record bound to a (normalized) address.
func (r *Result) ByAddress(addr string) (*models.FunctionRecord, bool) {
	norm := models.NormalizeAddress(addr)
	for k, rec := range r.Records {
		if k.Address == norm {
			return rec, true
		}
	}
	return nil, false
}

// Indexer walks a source tree and produces FunctionRecords for every hook
// install site it recognizes.
type Indexer struct {
	cfg      config.Source
	analyzer *Analyzer
	hookRes  []*regexp.Regexp
	classRes []*regexp.Regexp
}

// New compiles the configured hook and class patterns into an Indexer.
// Hook patterns must capture (symbol, address) in their first two groups.
func New(cfg config.Source) (*Indexer, error) {
	ix := &Indexer{cfg: cfg, analyzer: NewAnalyzer(cfg)}
	for _, p := range cfg.HookPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile hook pattern %q: %w", p, err)
		}
		if re.NumSubexp() < 2 {
			return nil, fmt.Errorf("hook pattern %q needs (symbol, address) capture groups", p)
		}
		ix.hookRes = append(ix.hookRes, re)
	}
	if len(ix.hookRes) == 0 {
		return nil, fmt.Errorf("no hook patterns configured")
	}
	for _, p := range cfg.ClassPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile class pattern %q: %w", p, err)
		}
		ix.classRes = append(ix.classRes, re)
	}
	return ix, nil
}

// Analyzer exposes the indexer's feature analyzer for candidate checking.
func (ix *Indexer) Analyzer() *Analyzer {
	return ix.analyzer
}

// hookSite is one textual hook binding found during the scan.
type hookSite struct {
	file     string // relative path
	class    string
	function string
	address  string // normalized
}

// Index performs one pass over the tree rooted at root.
func (ix *Indexer) Index(root string) (*Result, error) {
	files, err := ix.collectFiles(root)
	if err != nil {
		return nil, err
	}

	res := &Result{Records: make(map[models.FunctionKey]*models.FunctionRecord)}
	texts := make(map[string]string, len(files))

	var sites []hookSite
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			res.Warnings = append(res.Warnings, Warning{File: rel, Err: err.Error()})
			continue
		}
		if !utf8.Valid(data) {
			res.Warnings = append(res.Warnings, Warning{File: rel, Err: "not valid utf-8 text"})
			continue
		}
		text := string(data)
		texts[rel] = text
		sites = append(sites, ix.scanFile(rel, text)...)
	}

	// First binding per address wins; later ones become ambiguities.
	byAddr := make(map[string][]hookSite)
	for _, s := range sites {
		byAddr[s.address] = append(byAddr[s.address], s)
	}
	addrs := make([]string, 0, len(byAddr))
	for a := range byAddr {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		bound := byAddr[addr]
		if len(bound) > 1 {
			amb := Ambiguity{Address: addr}
			for _, s := range bound {
				amb.Sites = append(amb.Sites, fmt.Sprintf("%s: %s", s.file, (models.FunctionKey{Class: s.class, Function: s.function}).QualifiedName()))
			}
			res.Ambiguities = append(res.Ambiguities, amb)
		}
		site := bound[0]
		rec := ix.buildRecord(site, texts)
		res.Records[rec.Key()] = rec
	}

	return res, nil
}

// collectFiles lists the files to scan, relative to root, in sorted order.
func (ix *Indexer) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.recognized(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (ix *Indexer) recognized(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ix.cfg.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// scanFile finds every hook install site in one file. The class for a site
// is taken from the nearest preceding class marker in the same file, falling
// back to the file stem.
func (ix *Indexer) scanFile(rel, text string) []hookSite {
	type classMark struct {
		pos  int
		name string
	}
	var marks []classMark
	for _, re := range ix.classRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) >= 4 && m[2] >= 0 {
				marks = append(marks, classMark{pos: m[0], name: text[m[2]:m[3]]})
			}
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].pos < marks[j].pos })

	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))

	var sites []hookSite
	for _, re := range ix.hookRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 6 || m[2] < 0 || m[4] < 0 {
				continue
			}
			symbol := text[m[2]:m[3]]
			addr := text[m[4]:m[5]]
			if !models.ValidAddress(addr) {
				continue
			}
			class := stem
			for _, cm := range marks {
				if cm.pos < m[0] {
					class = cm.name
				} else {
					break
				}
			}
			sites = append(sites, hookSite{
				file:     rel,
				class:    class,
				function: symbol,
				address:  models.NormalizeAddress(addr),
			})
		}
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].address != sites[j].address {
			return sites[i].address < sites[j].address
		}
		return sites[i].function < sites[j].function
	})
	return sites
}

// buildRecord locates the definition body for a hook site and derives its
// features. The site's own file is searched first (install sites usually sit
// next to the definition), then files named after the class.
func (ix *Indexer) buildRecord(site hookSite, texts map[string]string) *models.FunctionRecord {
	rec := &models.FunctionRecord{
		Address:  site.address,
		Class:    site.class,
		Function: site.function,
		File:     site.file,
	}

	candidates := []string{site.file}
	var rest []string
	for rel := range texts {
		if rel == site.file {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		if stem == site.class {
			rest = append(rest, rel)
		}
	}
	sort.Strings(rest)
	candidates = append(candidates, rest...)

	for _, rel := range candidates {
		text, ok := texts[rel]
		if !ok {
			continue
		}
		body, found, _ := extractBody(text, site.class, site.function)
		if found {
			rec.File = rel
			rec.HasBody = true
			rec.Body = body
			rec.Features = ix.analyzer.Features(body)
			return rec
		}
	}
	return rec
}
