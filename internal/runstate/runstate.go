// Package runstate persists the URL and part count of the download in
// progress so that an interrupted run can be resumed by a later process.
//
// The record is two lines of text: the source URL, then the decimal part
// count. Its presence is the only signal that a resume is possible.
package runstate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("runstate: malformed run-state file")

type RunState struct {
	URL   string
	Parts int
}

// Store is a handle on one run-state file.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Load returns the stored run-state, or (nil, nil) when none exists.
func (s *Store) Load() (*RunState, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open run-state: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read run-state: %w", err)
	}
	if len(lines) < 2 || lines[0] == "" {
		return nil, fmt.Errorf("%w: expected url and part count in %s", ErrMalformed, s.Path)
	}
	parts, err := strconv.Atoi(lines[1])
	if err != nil || parts < 1 {
		return nil, fmt.Errorf("%w: bad part count %q", ErrMalformed, lines[1])
	}
	return &RunState{URL: lines[0], Parts: parts}, nil
}

// Save writes the record atomically (temp file + rename) so a crash never
// leaves a half-written run-state behind.
func (s *Store) Save(state RunState) error {
	if state.URL == "" || state.Parts < 1 {
		return fmt.Errorf("%w: url %q parts %d", ErrMalformed, state.URL, state.Parts)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run-state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create run-state: %w", err)
	}
	content := state.URL + "\n" + strconv.Itoa(state.Parts) + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write run-state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write run-state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write run-state: %w", err)
	}
	return nil
}

// Delete removes the record. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete run-state: %w", err)
	}
	return nil
}
