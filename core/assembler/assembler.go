// Package assembler turns a directory of verified parts into a promoted
// content store entry. The shell pipeline the workflow descends from
// (cat parts | pigz -d | tar -x) is done in-process so each stage surfaces
// a structured error instead of an opaque exit code.
package assembler

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/oxlabs/llamactl/core/model"
	"github.com/oxlabs/llamactl/core/store"
	"github.com/oxlabs/llamactl/lib/checksum"
	"github.com/oxlabs/llamactl/lib/logger"
)

var log, _ = logger.New("assembler")

const (
	StageConcat     = "concat"
	StageDecompress = "decompress"
	StageUnpack     = "unpack"
	StagePromote    = "promote"
)

// StageError reports which assembly stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("assembly failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Assemble concatenates the parts of m found in workDir in manifest order,
// decompresses and unpacks the stream into a scratch directory, and
// atomically promotes the result into st under key. Part order is a
// correctness requirement: a gzip stream concatenated out of order
// decompresses to silent garbage.
func Assemble(ctx context.Context, workDir string, key string, m *model.Manifest, st *store.Store) (*store.Entry, error) {
	parts := m.PartsInOrder()

	readers := make([]io.Reader, 0, len(parts))
	files := make([]*os.File, 0, len(parts))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, p := range parts {
		f, err := os.Open(filepath.Join(workDir, p.FileName))
		if err != nil {
			return nil, &StageError{Stage: StageConcat, Err: err}
		}

		files = append(files, f)
		readers = append(readers, f)
	}

	scratch, err := st.NewScratch()
	if err != nil {
		return nil, &StageError{Stage: StageUnpack, Err: err}
	}

	entry, err := assembleInto(ctx, scratch, key, m, io.MultiReader(readers...), st)
	if err != nil {
		// Scratch is always discarded on failure; the downloaded parts in
		// workDir are the resumable state and are left to the caller.
		st.RemoveScratch(scratch)
		return nil, err
	}

	return entry, nil
}

func assembleInto(ctx context.Context, scratch, key string, m *model.Manifest, concat io.Reader, st *store.Store) (*store.Entry, error) {
	gz, err := gzip.NewReader(concat)
	if err != nil {
		return nil, &StageError{Stage: StageDecompress, Err: err}
	}

	defer gz.Close()

	if err := unpack(ctx, scratch, tar.NewReader(gz)); err != nil {
		return nil, err
	}

	meta, err := buildMeta(scratch, m)
	if err != nil {
		return nil, &StageError{Stage: StagePromote, Err: err}
	}

	if err := store.WriteMeta(scratch, meta); err != nil {
		return nil, &StageError{Stage: StagePromote, Err: err}
	}

	entry, err := st.Promote(key, scratch)
	if err != nil {
		return nil, &StageError{Stage: StagePromote, Err: err}
	}

	log.Infow("artifact assembled", "key", key, "artifact", meta.Artifact, "bytes", meta.SizeBytes)
	return entry, nil
}

func unpack(ctx context.Context, scratch string, tr *tar.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &StageError{Stage: StageUnpack, Err: err}
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return &StageError{Stage: StageUnpack, Err: fmt.Errorf("unsafe entry path %q", hdr.Name)}
		}

		dest := filepath.Join(scratch, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &StageError{Stage: StageUnpack, Err: err}
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return &StageError{Stage: StageUnpack, Err: err}
			}

			f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return &StageError{Stage: StageUnpack, Err: err}
			}

			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &StageError{Stage: StageUnpack, Err: err}
			}

		default:
			// Symlinks and specials have no business in a model archive.
			return &StageError{Stage: StageUnpack, Err: fmt.Errorf("unsupported entry type %d for %q", hdr.Typeflag, hdr.Name)}
		}
	}
}

// buildMeta locates the unpacked artifact named by the manifest and records
// its size and, for a regular file, its sha256 digest.
func buildMeta(scratch string, m *model.Manifest) (*store.Meta, error) {
	artifact := filepath.Join(scratch, m.Model)

	fi, err := os.Stat(artifact)
	if err != nil {
		return nil, fmt.Errorf("archive does not contain %q: %w", m.Model, err)
	}

	meta := &store.Meta{
		Artifact:    m.Model,
		NumParts:    m.NumFiles,
		AssembledAt: time.Now().UTC(),
	}

	if fi.Mode().IsRegular() {
		meta.SizeBytes = fi.Size()

		digest, err := checksum.File(artifact)
		if err != nil {
			return nil, err
		}
		meta.SHA256 = digest
	} else {
		meta.SizeBytes, err = dirSize(artifact)
		if err != nil {
			return nil, err
		}
	}

	return meta, nil
}

func dirSize(root string) (int64, error) {
	var total int64

	err := filepath.Walk(root, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if fi.Mode().IsRegular() {
			total += fi.Size()
		}

		return nil
	})

	return total, err
}
