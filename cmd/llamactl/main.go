package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/oxlabs/llamactl/lib/logger"
)

var log, _ = logger.New("llamactl")

var version = "0.2.0"

func main() {
	// Optional .env next to the working directory; absence is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "llamactl",
		Usage: "manage local inference servers backed by content addressed model archives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "models-dir",
				Value: "models",
				Usage: "Content store root directory",
			},
		},
		Commands: []*cli.Command{
			startCmd,
			stopCmd,
			statusCmd,
			downloadCmd,
			checkCmd,
			versionCmd,
		},
		CommandNotFound: func(_ *cli.Context, command string) {
			log.Errorw("unknown command", "command", command)
			os.Exit(2)
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			log.Errorw("invalid arguments", "error", err)
			os.Exit(2)
			return nil
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Errorw("command failed", "error", err)
		os.Exit(1)
	}
}
