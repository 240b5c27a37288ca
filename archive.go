package sitecrawl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Archive stores article records as one append-only JSON Lines file per
// site under a directory. Writes to the same site file are serialized, so
// concurrent workers can append without interleaving records.
type Archive struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ReadError describes a failure to decode a single archived record.
type ReadError struct {
	Line int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ReadResult contains the records read from a site's archive file, along
// with any per-line errors that occurred during the operation.
type ReadResult struct {
	Records []ArticleRecord
	Errors  []ReadError
}

// NewArchive creates an archive rooted at the given directory, creating the
// directory if it doesn't exist (0700: owner-only access).
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archive{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Path returns the archive file path for a site.
func (a *Archive) Path(siteID string) string {
	return filepath.Join(a.dir, siteID+".jsonl")
}

// siteLock returns the write lock for a site, creating it on first use.
func (a *Archive) siteLock(siteID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[siteID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[siteID] = lock
	}
	return lock
}

// Append writes one record to the end of its site's archive file, creating
// the file on first write (0600: owner-only read/write). Records from
// earlier runs are kept; nothing is ever rolled back.
func (a *Archive) Append(rec ArticleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal article record: %w", err)
	}

	lock := a.siteLock(rec.Site)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(a.Path(rec.Site), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write article record: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	return nil
}

// Read returns all records in a site's archive file. Corrupted lines are
// collected in the result's Errors slice rather than failing the whole
// read. A missing file is not an error; it reads as an empty archive.
func (a *Archive) Read(siteID string) (*ReadResult, error) {
	f, err := os.Open(a.Path(siteID))
	if err != nil {
		if os.IsNotExist(err) {
			return &ReadResult{}, nil
		}
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	result := &ReadResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var rec ArticleRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			result.Errors = append(result.Errors, ReadError{Line: line, Err: err})
			continue
		}
		result.Records = append(result.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}

	return result, nil
}
