package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/oxlabs/llamactl/core/model"
)

const (
	recordFileName = "llamactl.state.json"
	lockFileName   = "llamactl.state.lock"
)

var ErrStateLocked = errors.New("state store is locked by another invocation")

// StateStore is the durable record of the currently active service. Every
// invocation of the tool is a fresh process, so this file is the only
// coordination point between concurrent start/stop/status runs. Writes go
// to a temp file first and become visible through a rename; an advisory
// lock serializes every read-decide-write sequence.
type StateStore struct {
	dir  string
	lock *flock.Flock
}

func NewStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &StateStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Lock acquires the cross-invocation advisory lock. The returned func
// releases it.
func (s *StateStore) Lock(ctx context.Context) (func(), error) {
	locked, err := s.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, err
	}

	if !locked {
		return nil, ErrStateLocked
	}

	return func() {
		_ = s.lock.Unlock()
	}, nil
}

// Load reads the persisted record. A missing file means no service is
// running and yields (nil, nil).
func (s *StateStore) Load() (*model.ServiceRecord, error) {
	b, err := os.ReadFile(s.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rec model.ServiceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Save persists the record atomically: write a temp file, then rename it
// over the record path so no reader ever sees a partial write.
func (s *StateStore) Save(rec *model.ServiceRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.recordPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, s.recordPath())
}

// Clear removes the record. A missing record is not an error.
func (s *StateStore) Clear() error {
	err := os.Remove(s.recordPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (s *StateStore) recordPath() string {
	return filepath.Join(s.dir, recordFileName)
}
