// Package credfile reads and rewrites AWS-style shared credentials files.
// It understands only the subset of INI used by those files: section
// headers (optionally followed by a comment), key = value entries, full-line
// comments, blank lines and indented continuation lines. An indented line is a
// continuation when it follows a key with an empty value (a nested block such
// as s3 =) or carries no '='; otherwise it is an entry of its own. Everything
// it does not modify is written back byte-for-byte, line endings included.
package credfile

import (
	"fmt"
	"sort"
	"strings"

	"assumerole/pkg/rolecreds"
)

// Keys written for every profile, in the order new sections receive them.
const (
	KeyAccessKeyID     = "aws_access_key_id"
	KeySecretAccessKey = "aws_secret_access_key"
	KeySessionToken    = "aws_session_token"
)

var managedKeyOrder = []string{KeyAccessKeyID, KeySecretAccessKey, KeySessionToken}

// ParseError reports malformed credentials file syntax.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

type lineKind int

const (
	blankLine lineKind = iota
	commentLine
	headerLine
	entryLine
	continuationLine
)

type line struct {
	kind  lineKind
	raw   string // without the line ending
	cr    bool   // line ended in \r\n
	key   string
	value string
}

// Section is a named profile. Its first line is always the header.
type Section struct {
	Name  string
	lines []*line
}

// File is the parsed form of a credentials file.
type File struct {
	preamble     []*line
	sections     []*Section
	finalNewline bool
	crlf         bool // new lines are written with \r\n
}

// New returns an empty file.
func New() *File {
	return &File{}
}

// CredentialEntries returns the managed keys for creds.
func CredentialEntries(creds rolecreds.Credentials) map[string]string {
	return map[string]string{
		KeyAccessKeyID:     creds.AccessKeyID,
		KeySecretAccessKey: creds.SecretAccessKey,
		KeySessionToken:    creds.SessionToken,
	}
}

// Parse builds a File from the raw bytes of a credentials file.
func Parse(data []byte) (*File, error) {
	f := New()
	text := string(data)
	if text == "" {
		return f, nil
	}
	f.finalNewline = strings.HasSuffix(text, "\n")
	f.crlf = strings.Contains(text, "\r\n")
	text = strings.TrimSuffix(text, "\n")

	seen := make(map[string]bool)
	var current *Section

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		l := &line{raw: raw}
		if strings.HasSuffix(raw, "\r") {
			l.raw, l.cr = strings.TrimSuffix(raw, "\r"), true
		}
		trimmed := strings.TrimSpace(l.raw)

		switch {
		case trimmed == "":
			l.kind = blankLine
		case trimmed[0] == '#' || trimmed[0] == ';':
			l.kind = commentLine
		case trimmed[0] == '[':
			end := strings.IndexByte(trimmed, ']')
			if end < 0 {
				return nil, &ParseError{Line: lineNo, Msg: "unterminated section header"}
			}
			if rest := strings.TrimSpace(trimmed[end+1:]); rest != "" && rest[0] != '#' && rest[0] != ';' {
				return nil, &ParseError{Line: lineNo, Msg: "unexpected text after section header"}
			}
			name := strings.TrimSpace(trimmed[1:end])
			if name == "" {
				return nil, &ParseError{Line: lineNo, Msg: "empty section name"}
			}
			if seen[name] {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate section %q", name)}
			}
			seen[name] = true
			l.kind = headerLine
			current = &Section{Name: name}
			f.sections = append(f.sections, current)
		case isIndented(l.raw) && current != nil && current.continues(trimmed):
			l.kind = continuationLine
		default:
			idx := strings.IndexByte(trimmed, '=')
			if idx < 0 {
				return nil, &ParseError{Line: lineNo, Msg: "expected key = value"}
			}
			if current == nil {
				return nil, &ParseError{Line: lineNo, Msg: "entry outside of any section"}
			}
			key := strings.TrimSpace(trimmed[:idx])
			if key == "" {
				return nil, &ParseError{Line: lineNo, Msg: "empty key"}
			}
			l.kind = entryLine
			l.key = key
			l.value = strings.TrimSpace(trimmed[idx+1:])
		}

		if current == nil {
			f.preamble = append(f.preamble, l)
		} else {
			current.lines = append(current.lines, l)
		}
	}

	return f, nil
}

func isIndented(raw string) bool {
	return raw != "" && (raw[0] == ' ' || raw[0] == '\t')
}

// Bytes serializes the file.
func (f *File) Bytes() []byte {
	all := f.allLines()
	var b strings.Builder
	for i, l := range all {
		b.WriteString(l.raw)
		if l.cr {
			b.WriteByte('\r')
		}
		if i < len(all)-1 || f.finalNewline {
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

func (f *File) allLines() []*line {
	all := append([]*line(nil), f.preamble...)
	for _, s := range f.sections {
		all = append(all, s.lines...)
	}
	return all
}

// Profiles lists section names in file order.
func (f *File) Profiles() []string {
	names := make([]string, 0, len(f.sections))
	for _, s := range f.sections {
		names = append(names, s.Name)
	}
	return names
}

// Profile returns the named section, or nil.
func (f *File) Profile(name string) *Section {
	for _, s := range f.sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// UpsertProfile merges entries into the named profile. Keys present in
// entries overwrite existing values, other keys are left alone and new keys
// are appended after the last entry of the section. A missing profile is
// appended at the end of the file.
func (f *File) UpsertProfile(name string, entries map[string]string) {
	if len(entries) == 0 {
		return
	}
	keys := orderedKeys(entries)
	last := f.lastLine()

	sec := f.Profile(name)
	if sec == nil {
		f.separateFromPrevious()
		sec = &Section{Name: name, lines: []*line{{kind: headerLine, raw: "[" + name + "]", cr: f.crlf}}}
		for _, k := range keys {
			sec.lines = append(sec.lines, f.newEntry(k, entries[k]))
		}
		f.sections = append(f.sections, sec)
		f.terminate(last)
		return
	}

	changed := false
	for _, k := range keys {
		if f.set(sec, k, entries[k]) {
			changed = true
		}
	}
	if changed {
		f.terminate(last)
	}
}

func (f *File) lastLine() *line {
	all := f.allLines()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// terminate makes sure the line that used to end the file gets a line ending
// matching the rest of the file once something follows it.
func (f *File) terminate(last *line) {
	if !f.finalNewline && last != nil && f.crlf {
		last.cr = true
	}
	f.finalNewline = true
}

// separateFromPrevious ensures a blank line precedes an appended section.
func (f *File) separateFromPrevious() {
	all := f.allLines()
	if len(all) == 0 || all[len(all)-1].kind == blankLine {
		return
	}
	blank := &line{kind: blankLine, cr: f.crlf}
	if n := len(f.sections); n > 0 {
		f.sections[n-1].lines = append(f.sections[n-1].lines, blank)
	} else {
		f.preamble = append(f.preamble, blank)
	}
}

func orderedKeys(entries map[string]string) []string {
	keys := make([]string, 0, len(entries))
	for _, k := range managedKeyOrder {
		if _, ok := entries[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range entries {
		if !isManaged(k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func isManaged(key string) bool {
	for _, k := range managedKeyOrder {
		if k == key {
			return true
		}
	}
	return false
}

func (f *File) newEntry(key, value string) *line {
	return &line{kind: entryLine, raw: renderEntry(key, value), cr: f.crlf, key: key, value: value}
}

func renderEntry(key, value string) string {
	if value == "" {
		return key + " ="
	}
	return key + " = " + value
}

// Get returns the value of key. When a key repeats the last one wins.
func (s *Section) Get(key string) (string, bool) {
	value, found := "", false
	for _, l := range s.lines {
		if l.kind == entryLine && l.key == key {
			value, found = l.value, true
		}
	}
	return value, found
}

// Keys lists the section's keys in file order.
func (s *Section) Keys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, l := range s.lines {
		if l.kind == entryLine && !seen[l.key] {
			seen[l.key] = true
			keys = append(keys, l.key)
		}
	}
	return keys
}

// continues reports whether an indented line belongs to the previous entry.
func (s *Section) continues(trimmed string) bool {
	for i := len(s.lines) - 1; i >= 0; i-- {
		if l := s.lines[i]; l.kind == entryLine {
			return l.value == "" || !strings.Contains(trimmed, "=")
		}
	}
	return false
}

// set assigns value to every occurrence of key in s, appending it when
// absent. It reports whether the section changed.
func (f *File) set(s *Section, key, value string) bool {
	changed, found := false, false

	for i := 0; i < len(s.lines); i++ {
		l := s.lines[i]
		if l.kind != entryLine || l.key != key {
			continue
		}
		found = true

		end := i + 1
		for end < len(s.lines) && s.lines[end].kind == continuationLine {
			end++
		}
		if l.value == value && end == i+1 {
			continue
		}

		s.lines = append(s.lines[:i+1], s.lines[end:]...)
		l.value = value
		l.raw = renderEntry(key, value)
		changed = true
	}

	if !found {
		at := s.insertionPoint()
		s.lines = append(s.lines, nil)
		copy(s.lines[at+1:], s.lines[at:])
		s.lines[at] = f.newEntry(key, value)
		changed = true
	}

	return changed
}

// insertionPoint is the index just past the last entry or continuation line,
// or just past the header for a section without entries.
func (s *Section) insertionPoint() int {
	at := 1
	for i, l := range s.lines {
		if l.kind == entryLine || l.kind == continuationLine {
			at = i + 1
		}
	}
	return at
}
