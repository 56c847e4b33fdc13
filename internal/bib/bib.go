// Package bib parses the project bibliography source.
//
// Entries are keyed by citation key with typed fields and O(1) lookup. The
// parser handles the subset of BibTeX the manuscript layout uses: @type{key,
// field = {value} | "value" | bare, with arbitrarily nested braces. No
// BibTeX library exists in this project's dependency set, so the scanner is
// written in the same line-oriented style as the converter stages.
package bib

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Sentinel errors for bibliography parsing.
var (
	ErrEmptySource    = errors.New("bibliography source is empty")
	ErrMalformedEntry = errors.New("malformed bibliography entry")
	ErrDuplicateKey   = errors.New("duplicate citation key")
)

// Entry is one bibliography record.
type Entry struct {
	Key    string
	Type   string // article, book, misc, ...
	Fields map[string]string
	Line   int // 1-based line of the @type opener
}

// DOI returns the entry's doi field, empty when absent.
func (e Entry) DOI() string { return e.Fields["doi"] }

// Database holds all parsed entries with O(1) lookup by citation key.
type Database struct {
	entries map[string]Entry
	order   []string
}

// Lookup returns the entry for key and whether it exists.
func (db *Database) Lookup(key string) (Entry, bool) {
	e, ok := db.entries[key]
	return e, ok
}

// Has reports whether key is defined.
func (db *Database) Has(key string) bool {
	_, ok := db.entries[key]
	return ok
}

// Len returns the number of entries.
func (db *Database) Len() int { return len(db.entries) }

// Keys returns citation keys in source order.
func (db *Database) Keys() []string {
	keys := make([]string, len(db.order))
	copy(keys, db.order)
	return keys
}

// DOIs returns key -> doi for every entry that declares one, in source order.
func (db *Database) DOIs() map[string]string {
	out := make(map[string]string)
	for _, k := range db.order {
		if doi := db.entries[k].DOI(); doi != "" {
			out[k] = doi
		}
	}
	return out
}

// Parse reads a BibTeX source. Duplicate keys are an error: the first
// definition wins and parsing continues, with ErrDuplicateKey wrapped in the
// returned error alongside the database.
func Parse(src string) (*Database, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrEmptySource
	}

	db := &Database{entries: make(map[string]Entry)}
	var errs []error

	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		if c == '\n' {
			line++
		}
		if c != '@' {
			i++
			continue
		}

		entry, consumed, err := parseEntry(src[i:], line)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			i++
			continue
		}
		line += strings.Count(src[i:i+consumed], "\n")
		i += consumed

		if entry.Type == "comment" || entry.Type == "preamble" || entry.Type == "string" {
			continue
		}
		if _, dup := db.entries[entry.Key]; dup {
			errs = append(errs, fmt.Errorf("%w: %s (line %d)", ErrDuplicateKey, entry.Key, entry.Line))
			continue
		}
		db.entries[entry.Key] = entry
		db.order = append(db.order, entry.Key)
	}

	return db, errors.Join(errs...)
}

// parseEntry parses one @type{key, field = value, ...} starting at src[0] == '@'.
// Returns the entry and the number of bytes consumed.
func parseEntry(src string, line int) (Entry, int, error) {
	open := strings.IndexByte(src, '{')
	if open < 0 {
		return Entry{}, 0, fmt.Errorf("%w: missing opening brace", ErrMalformedEntry)
	}
	entryType := strings.ToLower(strings.TrimSpace(src[1:open]))
	if entryType == "" || !isIdent(entryType) {
		return Entry{}, 0, fmt.Errorf("%w: bad entry type %q", ErrMalformedEntry, entryType)
	}

	body, consumed, ok := balancedBraces(src[open:])
	if !ok {
		return Entry{}, 0, fmt.Errorf("%w: unbalanced braces", ErrMalformedEntry)
	}
	total := open + consumed

	if entryType == "comment" || entryType == "preamble" || entryType == "string" {
		return Entry{Type: entryType, Line: line}, total, nil
	}

	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return Entry{}, 0, fmt.Errorf("%w: missing citation key", ErrMalformedEntry)
	}
	key := strings.TrimSpace(body[:comma])
	if key == "" {
		return Entry{}, 0, fmt.Errorf("%w: empty citation key", ErrMalformedEntry)
	}

	entry := Entry{
		Key:    key,
		Type:   entryType,
		Fields: parseFields(body[comma+1:]),
		Line:   line,
	}
	return entry, total, nil
}

// balancedBraces returns the content inside the brace group starting at
// src[0] == '{' and the bytes consumed including both braces.
func balancedBraces(src string) (string, int, bool) {
	depth := 0
	for j := 0; j < len(src); j++ {
		switch src[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return src[1:j], j + 1, true
			}
		}
	}
	return "", 0, false
}

// parseFields splits "a = {x}, b = "y", c = 2020" into a lowercase-keyed map.
func parseFields(body string) map[string]string {
	fields := make(map[string]string)
	i := 0
	for i < len(body) {
		// Field name.
		start := i
		for i < len(body) && body[i] != '=' && body[i] != '}' {
			i++
		}
		if i >= len(body) || body[i] != '=' {
			break
		}
		name := strings.ToLower(strings.TrimSpace(body[start:i]))
		i++ // skip '='

		for i < len(body) && unicode.IsSpace(rune(body[i])) {
			i++
		}
		if i >= len(body) {
			break
		}

		var value string
		switch body[i] {
		case '{':
			inner, consumed, ok := balancedBraces(body[i:])
			if !ok {
				return fields
			}
			value = inner
			i += consumed
		case '"':
			end := strings.IndexByte(body[i+1:], '"')
			if end < 0 {
				return fields
			}
			value = body[i+1 : i+1+end]
			i += end + 2
		default:
			end := strings.IndexByte(body[i:], ',')
			if end < 0 {
				end = len(body) - i
			}
			value = strings.TrimSpace(body[i : i+end])
			i += end
		}

		if name != "" {
			fields[name] = normalizeValue(value)
		}

		// Skip to the next field separator.
		for i < len(body) && body[i] != ',' {
			i++
		}
		if i < len(body) {
			i++
		}
	}
	return fields
}

// normalizeValue collapses internal whitespace runs into single spaces.
func normalizeValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// isIdent reports whether s is letters only.
func isIdent(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
