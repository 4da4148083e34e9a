// Package pipeline wires the manifest resolver, downloader and assembler
// behind the content store's idempotence gate.
package pipeline

import (
	"context"
	"errors"

	"github.com/oxlabs/llamactl/core/assembler"
	"github.com/oxlabs/llamactl/core/downloader"
	"github.com/oxlabs/llamactl/core/manifest"
	"github.com/oxlabs/llamactl/core/store"
	"github.com/oxlabs/llamactl/lib/logger"
)

var log, _ = logger.New("pipeline")

type Pipeline struct {
	Resolver   *manifest.Resolver
	Downloader *downloader.Downloader
	Store      *store.Store
}

func New(resolver *manifest.Resolver, dl *downloader.Downloader, st *store.Store) *Pipeline {
	return &Pipeline{
		Resolver:   resolver,
		Downloader: dl,
		Store:      st,
	}
}

// Ensure returns the store entry for hash, producing it first if absent.
// A present entry short-circuits the whole fetch pipeline.
func (p *Pipeline) Ensure(ctx context.Context, hash string) (*store.Entry, error) {
	if p.Store.Exists(hash) {
		log.Infow("artifact already present", "hash", hash)
		return p.Store.Entry(hash)
	}

	m, err := p.Resolver.Resolve(ctx, hash)
	if err != nil {
		return nil, err
	}

	workDir, err := p.Store.DownloadDir(hash)
	if err != nil {
		return nil, err
	}

	if err := p.Downloader.FetchAll(ctx, m, workDir); err != nil {
		// Failed and interrupted downloads keep their partial files so the
		// next run resumes instead of refetching completed parts.
		return nil, err
	}

	entry, err := assembler.Assemble(ctx, workDir, hash, m, p.Store)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		// A broken archive will not assemble on retry either; discard the
		// parts so the next run starts clean.
		if rmErr := p.Store.RemoveDownloads(hash); rmErr != nil {
			log.Warnw("download cleanup failed", "hash", hash, "error", rmErr)
		}
		return nil, err
	}

	if err := p.Store.RemoveDownloads(hash); err != nil {
		log.Warnw("download cleanup failed", "hash", hash, "error", err)
	}

	return entry, nil
}
