package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewCommand creates the root command with default options
func NewCommand() *cobra.Command {
	s := NewOptions()

	cmd := &cobra.Command{
		Use:   "peoplewatch [input]",
		Short: "Track humans in a video stream",
		Long: `peoplewatch finds humans in a video stream. A detector runs every few
frames and cheap template trackers follow the people in between. The
detection interval shortens when the scene changes and relaxes while it
is stable.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 1 && s.Input == "" {
				s.Input = args[0]
			}

			level, err := s.Level()
			if err != nil {
				slog.Error("bad flags", "error", err)
				os.Exit(2)
			}
			logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: "15:04:05",
			}))
			slog.SetDefault(logger)

			cfg, err := s.Config()
			if err != nil {
				logger.Error("failed to load configuration", "error", err)
				os.Exit(2)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := Run(ctx, s, cfg, logger); err != nil {
				logger.Error("run failed", "error", err)
				stop()
				os.Exit(1)
			}
		},
	}

	fs := cmd.Flags()
	fs.AddFlagSet(s.Flags())

	return cmd
}
