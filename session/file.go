package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const fileExt = ".json"

var (
	// ErrNoStoreDir is returned when FileConfig.Dir is empty.
	ErrNoStoreDir = errors.New("session: file store directory is required")

	// ErrInvalidStoreLimit is returned when FileConfig.Limit is negative.
	ErrInvalidStoreLimit = errors.New("session: file store limit must not be negative")
)

// FileConfig configures a FileStore.
type FileConfig struct {
	// Dir holds one JSON file per session. It is created when missing.
	Dir string

	// TTL is how long an untouched session lives, measured from the file
	// modification time. Defaults to DefaultTTL.
	TTL time.Duration

	// Limit caps the number of session files. When a save goes over it,
	// expired files are removed first, then the least recently used ones.
	// Zero means no limit.
	Limit int
}

// FileStore keeps each session as a JSON file named after its id. Values
// must be JSON-encodable; they are decoded into their generic JSON form
// (numbers become float64).
type FileStore struct {
	dir   string
	ttl   time.Duration
	limit int
	now   func() time.Time
}

// NewFileStore returns a FileStore rooted at cfg.Dir.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, ErrNoStoreDir
	}

	if cfg.Limit < 0 {
		return nil, ErrInvalidStoreLimit
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create store directory: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &FileStore{
		dir:   cfg.Dir,
		ttl:   ttl,
		limit: cfg.Limit,
		now:   time.Now,
	}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidID
	}

	return filepath.Join(s.dir, id+fileExt), nil
}

// Load reads the values of id. Expired files are removed.
func (s *FileStore) Load(_ context.Context, id string) (map[string]any, error) {
	name, err := s.path(id)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: stat %s: %w", id, err)
	}

	if s.expired(info) {
		_ = os.Remove(name)
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}

	return values, nil
}

// Save writes values to the file of id through a temporary file, so
// readers never see a partial write.
func (s *FileStore) Save(_ context.Context, id string, values map[string]any) error {
	name, err := s.path(id)
	if err != nil {
		return err
	}

	if values == nil {
		values = map[string]any{}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: save %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: save %s: %w", id, err)
	}

	if err := os.Rename(tmp.Name(), name); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: save %s: %w", id, err)
	}

	now := s.now()
	if err := os.Chtimes(name, now, now); err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}

	if s.limit > 0 {
		return s.enforceLimit()
	}

	return nil
}

// Delete removes the file of id.
func (s *FileStore) Delete(_ context.Context, id string) error {
	name, err := s.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}

	return nil
}

// Touch renews the lifetime of id by updating its modification time.
func (s *FileStore) Touch(_ context.Context, id string) error {
	name, err := s.path(id)
	if err != nil {
		return err
	}

	info, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("session: stat %s: %w", id, err)
	}

	if s.expired(info) {
		_ = os.Remove(name)
		return ErrNotFound
	}

	now := s.now()
	if err := os.Chtimes(name, now, now); err != nil {
		return fmt.Errorf("session: touch %s: %w", id, err)
	}

	return nil
}

// Close is a no-op; FileStore holds no open resources.
func (s *FileStore) Close() error {
	return nil
}

// Purge removes expired session files and returns how many were removed.
func (s *FileStore) Purge() (int, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if s.expired(f.info) {
			if err := os.Remove(f.path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func (s *FileStore) expired(info fs.FileInfo) bool {
	return !s.now().Before(info.ModTime().Add(s.ttl))
}

type sessionFile struct {
	path string
	info fs.FileInfo
}

func (s *FileStore) list() ([]sessionFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list store: %w", err)
	}

	files := make([]sessionFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || !ValidID(strings.TrimSuffix(name, fileExt)) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		files = append(files, sessionFile{path: filepath.Join(s.dir, name), info: info})
	}

	return files, nil
}

// enforceLimit removes expired files, then the oldest ones, until at most
// limit files remain.
func (s *FileStore) enforceLimit() error {
	files, err := s.list()
	if err != nil {
		return err
	}

	if len(files) <= s.limit {
		return nil
	}

	live := files[:0]
	for _, f := range files {
		if s.expired(f.info) {
			_ = os.Remove(f.path)
			continue
		}
		live = append(live, f)
	}

	if len(live) <= s.limit {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].info.ModTime().Before(live[j].info.ModTime())
	})

	for _, f := range live[:len(live)-s.limit] {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("session: purge: %w", err)
		}
	}

	return nil
}
