// Package store implements the local content store: a hash keyed cache of
// fully assembled model artifacts. Presence of a key is determined solely by
// a successful atomic promotion, so an entry is never partially visible.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oxlabs/llamactl/lib/logger"
)

var log, _ = logger.New("store")

var (
	ErrKeyExists   = errors.New("content store key already present")
	ErrKeyNotFound = errors.New("content store key not found")
)

const (
	MetaFileName = "meta.json"

	downloadsDir = "downloads"
	scratchDir   = "tmp"
)

// Meta describes a promoted artifact. It is written into the scratch
// directory before promotion so it becomes visible atomically with the entry.
type Meta struct {
	Artifact    string    `json:"artifact"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256,omitempty"`
	NumParts    int       `json:"num_parts"`
	AssembledAt time.Time `json:"assembled_at"`
}

// WriteMeta writes the meta file into a directory, normally a scratch
// directory about to be promoted.
func WriteMeta(dir string, meta *Meta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, MetaFileName), b, 0o644)
}

type Entry struct {
	Key  string
	Dir  string
	Meta Meta
}

// ModelPath is the path handed to llama-server.
func (e *Entry) ModelPath() string {
	return filepath.Join(e.Dir, e.Meta.Artifact)
}

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, downloadsDir), filepath.Join(root, scratchDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Exists reports whether key has been promoted. It is the idempotence gate:
// callers check this before resolving, fetching or assembling anything.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(s.root, key, MetaFileName))
	return err == nil
}

func (s *Store) Entry(key string) (*Entry, error) {
	dir := filepath.Join(s.root, key)

	b, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}

	return &Entry{Key: key, Dir: dir, Meta: meta}, nil
}

func (s *Store) ModelPath(key string) (string, error) {
	entry, err := s.Entry(key)
	if err != nil {
		return "", err
	}

	return entry.ModelPath(), nil
}

// Promote atomically renames a fully populated scratch directory into the
// store under key. The scratch directory must already contain the artifact
// and its meta file. An existing key is a precondition violation, never
// overwritten.
func (s *Store) Promote(key, scratch string) (*Entry, error) {
	if s.Exists(key) {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, key)
	}

	if _, err := os.Stat(filepath.Join(scratch, MetaFileName)); err != nil {
		return nil, fmt.Errorf("scratch missing %s: %w", MetaFileName, err)
	}

	dest := filepath.Join(s.root, key)
	if err := os.Rename(scratch, dest); err != nil {
		return nil, err
	}

	log.Infow("artifact promoted", "key", key, "path", dest)
	return s.Entry(key)
}

func (s *Store) Remove(key string) error {
	if !s.Exists(key) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	return os.RemoveAll(filepath.Join(s.root, key))
}

// DownloadDir is the working directory holding the partial part files for
// key. It lives inside the store root so resumed runs find earlier state.
func (s *Store) DownloadDir(key string) (string, error) {
	dir := filepath.Join(s.root, downloadsDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return dir, nil
}

// RemoveDownloads discards the partial state for key.
func (s *Store) RemoveDownloads(key string) error {
	return os.RemoveAll(filepath.Join(s.root, downloadsDir, key))
}

// NewScratch returns a fresh scratch directory on the same filesystem as
// the store root, so promotion is a rename and never a copy.
func (s *Store) NewScratch() (string, error) {
	dir := filepath.Join(s.root, scratchDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return dir, nil
}

func (s *Store) RemoveScratch(scratch string) {
	if scratch == "" {
		return
	}

	if err := os.RemoveAll(scratch); err != nil {
		log.Warnw("scratch cleanup failed", "path", scratch, "error", err)
	}
}
