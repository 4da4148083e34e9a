// Package downloader implements the resumable parallel fetch pipeline for
// split model archives. Parts download independently on a bounded worker
// pool; each part resumes from its local byte offset, retries transient
// failures with capped exponential backoff and verifies its final size.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oxlabs/llamactl/core/model"
	"github.com/oxlabs/llamactl/lib/cmap"
	"github.com/oxlabs/llamactl/lib/logger"
	"github.com/oxlabs/llamactl/lib/retry"
)

var log, _ = logger.New("downloader")

type Downloader struct {
	cfg    Config
	client *http.Client
	retry  retry.Policy

	states cmap.Map[string, model.PartDownloadState]
}

func New(cfg *Config) *Downloader {
	return &Downloader{
		cfg: *cfg,
		client: &http.Client{
			// No overall timeout: parts can be many gigabytes. Hung
			// transfers are bounded by the header timeout and ctx.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				Proxy:                 http.ProxyFromEnvironment,
			},
		},
		retry: retry.Policy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
			Retryable:    retryable,
		},
	}
}

// FetchAll downloads every part of m into workDir. It returns nil only when
// all parts complete; otherwise a *PartialDownloadError naming every failed
// part, or ctx.Err() on cancellation. Partial files are always left on disk
// so the next invocation can resume.
func (d *Downloader) FetchAll(ctx context.Context, m *model.Manifest, workDir string) error {
	session := uuid.NewString()
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = min(2*runtime.NumCPU(), len(m.Parts))
	}
	if workers < 1 {
		workers = 1
	}

	log.Infow("download starting", "session", session, "model", m.Model, "parts", len(m.Parts), "workers", workers)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var failed []string

	for _, part := range m.Parts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(p model.PartRef) {
			defer wg.Done()
			defer func() { <-sem }()

			err := d.fetchPart(ctx, p, workDir)
			if err != nil && ctx.Err() == nil {
				log.Errorw("part failed", "session", session, "part", p.FileName, "error", err)
				d.setStatus(p, model.PartFailed)

				mu.Lock()
				failed = append(failed, p.FileName)
				mu.Unlock()
			}
		}(part)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Warnw("download interrupted, partial state preserved", "session", session)
		return err
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return &PartialDownloadError{Failed: failed}
	}

	log.Infow("download complete", "session", session, "model", m.Model)
	return nil
}

// States returns a snapshot of every tracked part state.
func (d *Downloader) States() []model.PartDownloadState {
	states := make([]model.PartDownloadState, 0, d.states.Len())
	d.states.Range(func(_, v any) bool {
		states = append(states, v.(model.PartDownloadState))
		return true
	})

	sort.Slice(states, func(i, j int) bool {
		return states[i].Part.FileName < states[j].Part.FileName
	})

	return states
}

// fetchPart drives one part through the retry policy. Each attempt re-probes
// the on-disk state, so a part completed by an earlier run or attempt is
// recognized instead of re-downloaded.
func (d *Downloader) fetchPart(ctx context.Context, part model.PartRef, workDir string) error {
	dest := filepath.Join(workDir, part.FileName)

	return d.retry.Do(ctx, func() error {
		return d.fetchOnce(ctx, part, dest)
	})
}

func (d *Downloader) fetchOnce(ctx context.Context, part model.PartRef, dest string) error {
	have := localSize(dest)
	if have > 0 {
		d.setState(part, model.PartResuming, have, 0)
		log.Infow("resuming part", "part", part.FileName, "offset", have)
	} else {
		d.setState(part, model.PartPending, 0, 0)
	}

	u, err := url.JoinPath(d.cfg.Gateway, part.ContentID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	if have > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", have))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	var total int64
	var flags int

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total, err = contentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}

		// A total smaller than what is already on disk means the local
		// partial is stale or corrupt and must never be resumed blindly.
		if total > 0 && total < have {
			return d.discard(part, dest, have, total)
		}

		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND

	case http.StatusOK:
		// Server ignored the range request: start over from zero.
		have = 0
		total = resp.ContentLength
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

	case http.StatusRequestedRangeNotSatisfiable:
		// The local partial already holds the whole object.
		total, err = contentRangeTotal(resp.Header.Get("Content-Range"))
		if err == nil && total > 0 && total != have {
			return d.discard(part, dest, have, total)
		}

		d.setState(part, model.PartComplete, have, have)
		log.Infow("part already complete", "part", part.FileName, "bytes", have)
		return nil

	default:
		return &StatusError{Code: resp.StatusCode, Part: part.FileName}
	}

	if total > 0 {
		d.setState(part, model.PartDownloading, have, total)
	} else {
		d.setState(part, model.PartDownloading, have, 0)
	}

	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return err
	}

	pw := &progressWriter{d: d, part: part, written: have, total: total}
	buf := make([]byte, d.cfg.BufferSize)
	_, copyErr := io.CopyBuffer(io.MultiWriter(f, pw), resp.Body, buf)

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = err
	}

	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return copyErr
	}

	final := localSize(dest)
	d.setState(part, model.PartVerifying, final, total)

	if total > 0 && final != total {
		return d.discard(part, dest, final, total)
	}

	d.setState(part, model.PartComplete, final, total)
	log.Infow("part complete", "part", part.FileName, "bytes", final)
	return nil
}

// discard drops a partial that cannot be resumed and reports an integrity
// error so the retry policy refetches from zero.
func (d *Downloader) discard(part model.PartRef, dest string, have, total int64) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}

	d.setState(part, model.PartPending, 0, total)
	return fmt.Errorf("%w: part %s has %d bytes on disk, server reports %d", ErrIntegrity, part.FileName, have, total)
}

func (d *Downloader) setState(part model.PartRef, status model.PartStatus, bytes, total int64) {
	d.states.Set(part.FileName, model.PartDownloadState{
		Part:          part,
		BytesOnDisk:   bytes,
		ExpectedBytes: total,
		Status:        status,
	})
}

func (d *Downloader) setStatus(part model.PartRef, status model.PartStatus) {
	state, ok := d.states.Get(part.FileName)
	if !ok {
		d.setState(part, status, 0, 0)
		return
	}

	state.Status = status
	d.states.Set(part.FileName, *state)
}

// progressWriter mirrors streamed byte counts into the part state table.
type progressWriter struct {
	d       *Downloader
	part    model.PartRef
	written int64
	total   int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	w.d.setState(w.part, model.PartDownloading, w.written, w.total)
	return len(p), nil
}

func localSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return fi.Size()
}

// contentRangeTotal extracts the complete length from a Content-Range
// header such as "bytes 100-999/1000" or "bytes */1000". A header of
// "bytes x-y/*" yields zero, meaning unknown.
func contentRangeTotal(header string) (int64, error) {
	if header == "" {
		return 0, nil
	}

	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("unparsable Content-Range %q", header)
	}

	totalStr := header[idx+1:]
	if totalStr == "*" {
		return 0, nil
	}

	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable Content-Range %q", header)
	}

	return total, nil
}
