package manifest

import (
	"context"
	"encoding/json"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"github.com/oxlabs/llamactl/core/model"
)

// Store caches resolved manifests by content identifier. Manifests are
// content-addressed, so a cached entry can never go stale.
type Store struct {
	Manifests *dslvl.Datastore
}

func NewStore(dsPath string) (*Store, error) {
	p := fmt.Sprintf("%s/manifests", dsPath)
	store, err := dslvl.NewDatastore(p, nil)
	if err != nil {
		return nil, err
	}

	return &Store{
		Manifests: store,
	}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Manifest, error) {
	k := ds.NewKey(id)
	b, err := s.Manifests.Get(ctx, k)
	if err != nil {
		return nil, err
	}

	var m model.Manifest
	err = json.Unmarshal(b, &m)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	k := ds.NewKey(id)
	exists, err := s.Manifests.Has(ctx, k)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (s *Store) Put(ctx context.Context, id string, m *model.Manifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	k := ds.NewKey(id)
	return s.Manifests.Put(ctx, k, b)
}

func (s *Store) Close() error {
	return s.Manifests.Close()
}
