package main

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/oxlabs/llamactl/core/downloader"
	"github.com/oxlabs/llamactl/core/manifest"
	"github.com/oxlabs/llamactl/core/pipeline"
	"github.com/oxlabs/llamactl/core/store"
	"github.com/oxlabs/llamactl/core/supervisor"
	"github.com/oxlabs/llamactl/lib/checksum"
)

// buildPipeline wires the fetch pipeline against the given store root.
// The returned func closes the manifest cache.
func buildPipeline(storeRoot string, bufferSize int) (*pipeline.Pipeline, func(), error) {
	st, err := store.New(storeRoot)
	if err != nil {
		return nil, nil, err
	}

	mcfg, err := manifest.GetConfig()
	if err != nil {
		return nil, nil, err
	}

	cache, err := manifest.NewStore(filepath.Join(storeRoot, "cache"))
	if err != nil {
		return nil, nil, err
	}

	dcfg, err := downloader.GetConfig()
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	if bufferSize > 0 {
		dcfg.BufferSize = bufferSize
	}

	p := pipeline.New(
		manifest.NewResolver(mcfg, cache),
		downloader.New(dcfg),
		st,
	)

	return p, func() { cache.Close() }, nil
}

func buildSupervisor(storeRoot string) (*supervisor.Supervisor, func(), error) {
	p, closeCache, err := buildPipeline(storeRoot, 0)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := supervisor.GetConfig()
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	state, err := supervisor.NewStateStore(cfg.StateDir)
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	return supervisor.New(cfg, state, p), closeCache, nil
}

var startCmd = &cli.Command{
	Name:  "start",
	Usage: "Start a local inference server for a model",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hash",
			Required: true,
			Usage:    "Content identifier of the model to run",
		},
		&cli.IntFlag{
			Name:  "port",
			Value: 8080,
			Usage: "Port for the inference server",
		},
		&cli.StringFlag{
			Name:  "host",
			Value: "127.0.0.1",
			Usage: "Host address for the inference server",
		},
		&cli.IntFlag{
			Name:  "context-length",
			Value: 4096,
			Usage: "Context length passed to the inference server",
		},
	},
	Action: func(ctx *cli.Context) error {
		sup, cleanup, err := buildSupervisor(ctx.String("models-dir"))
		if err != nil {
			return err
		}

		defer cleanup()

		return sup.Start(ctx.Context, ctx.String("hash"), ctx.Int("port"), ctx.String("host"), ctx.Int("context-length"))
	},
}

var stopCmd = &cli.Command{
	Name:  "stop",
	Usage: "Stop the running inference server",
	Action: func(ctx *cli.Context) error {
		sup, cleanup, err := buildSupervisor(ctx.String("models-dir"))
		if err != nil {
			return err
		}

		defer cleanup()

		return sup.Stop(ctx.Context)
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Report the running inference server, if any",
	Action: func(ctx *cli.Context) error {
		sup, cleanup, err := buildSupervisor(ctx.String("models-dir"))
		if err != nil {
			return err
		}

		defer cleanup()

		handle, err := sup.Status(ctx.Context)
		if err != nil {
			return err
		}

		if handle == nil {
			fmt.Println("not running")
			return nil
		}

		fmt.Printf("running model=%s port=%d pid=%d since=%s\n",
			handle.ModelID, handle.Port, handle.PID, handle.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

var downloadCmd = &cli.Command{
	Name:  "download",
	Usage: "Fetch and assemble a model into the content store",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hash",
			Required: true,
			Usage:    "Content identifier of the model to download",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Value: 4096,
			Usage: "Copy buffer size in bytes",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Usage: "Content store root (defaults to --models-dir)",
		},
	},
	Action: func(ctx *cli.Context) error {
		root := ctx.String("output-dir")
		if root == "" {
			root = ctx.String("models-dir")
		}

		p, cleanup, err := buildPipeline(root, ctx.Int("chunk-size"))
		if err != nil {
			return err
		}

		defer cleanup()

		entry, err := p.Ensure(ctx.Context, ctx.String("hash"))
		if err != nil {
			return err
		}

		fmt.Println(entry.ModelPath())
		return nil
	},
}

var checkCmd = &cli.Command{
	Name:  "check",
	Usage: "Check whether a model is present in the content store",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "hash",
			Required: true,
			Usage:    "Content identifier to check",
		},
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "Re-hash the artifact against the recorded digest",
		},
	},
	Action: func(ctx *cli.Context) error {
		st, err := store.New(ctx.String("models-dir"))
		if err != nil {
			return err
		}

		hash := ctx.String("hash")
		if !st.Exists(hash) {
			return fmt.Errorf("model %s not present", hash)
		}

		entry, err := st.Entry(hash)
		if err != nil {
			return err
		}

		if ctx.Bool("verify") && entry.Meta.SHA256 != "" {
			digest, err := checksum.File(entry.ModelPath())
			if err != nil {
				return err
			}

			if digest != entry.Meta.SHA256 {
				return fmt.Errorf("digest mismatch for %s: have %s, recorded %s", hash, digest, entry.Meta.SHA256)
			}
		}

		fmt.Println(entry.ModelPath())
		return nil
	},
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print the llamactl version",
	Action: func(_ *cli.Context) error {
		fmt.Println(version)
		return nil
	},
}
