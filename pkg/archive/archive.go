package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Archive is the persistent set of already-transferred asset identifiers,
// in the style of yt-dlp's --download-archive: UTF-8 text, one identifier
// per line, blank lines ignored, append-only during a run.
//
// The in-memory set is hydrated once at open. Add updates the set and
// appends one line to the backing file, synced immediately, so a crash
// never loses the record of a confirmed transfer. Membership is monotonic
// for the lifetime of a run: once true, always true.
type Archive struct {
	mu      sync.Mutex
	path    string
	entries map[string]struct{}
	file    *os.File // nil when persistence is disabled
}

// Open loads the archive at path, creating it (and parent directories) if
// needed. An empty path returns an in-memory archive without persistence.
func Open(path string) (*Archive, error) {
	a := &Archive{
		path:    path,
		entries: make(map[string]struct{}),
	}
	if path == "" {
		return a, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := a.hydrate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive for append: %w", err)
	}
	a.file = file
	return a, nil
}

// hydrate loads existing identifiers from the backing file.
func (a *Archive) hydrate() error {
	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			a.entries[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	return nil
}

// Contains reports whether id has been transferred before.
func (a *Archive) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[id]
	return ok
}

// Add records id as transferred. Adding an existing entry is a no-op. The
// backing file is appended and synced before Add returns.
func (a *Archive) Add(id string) error {
	if id == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[id]; ok {
		return nil
	}
	a.entries[id] = struct{}{}

	if a.file == nil {
		return nil
	}
	if _, err := fmt.Fprintln(a.file, id); err != nil {
		return fmt.Errorf("failed to append to archive: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	return nil
}

// Len returns the number of archived identifiers.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// IsEmpty reports whether the archive holds no identifiers.
func (a *Archive) IsEmpty() bool {
	return a.Len() == 0
}

// Path returns the backing file path, empty when persistence is disabled.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the backing file handle.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
