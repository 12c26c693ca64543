package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/rhodes-client/internal/app"
	"github.com/ent0n29/rhodes-client/internal/config"
	"github.com/ent0n29/rhodes-client/internal/connection"
)

type flags struct {
	configFile string
	newSession bool
	resumeID   string
	viewOnly   bool
	room       string
	voice      bool
	handsFree  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "rhodes-client",
		Short:        "Terminal client for the Rhodes assistant",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, launchFrom(f), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.configFile, "config", "", "YAML overlay file (overrides RHODES_CONFIG_FILE)")
	cmd.Flags().BoolVar(&f.newSession, "new-session", false, "start a fresh session instead of resuming")
	cmd.Flags().StringVar(&f.resumeID, "resume", "", "resume the given session id")
	cmd.Flags().BoolVar(&f.viewOnly, "view-only", false, "watch the session without a user identity")
	cmd.Flags().StringVar(&f.room, "room", "", "join a room after connecting")
	cmd.Flags().BoolVar(&f.voice, "voice", false, "speak assistant replies")
	cmd.Flags().BoolVar(&f.handsFree, "hands-free", false, "start in hands-free voice mode")
	return cmd
}

func loadConfig(f flags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f.configFile != "" {
		cfg, err = config.LoadFile(f.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	if f.voice {
		cfg.VoiceEnabled = true
	}
	if f.handsFree {
		cfg.VoiceMode = "hands_free"
		cfg.VoiceEnabled = true
	}
	return cfg, nil
}

func launchFrom(f flags) connection.Launch {
	return connection.Launch{
		NewSession: f.newSession,
		ResumeID:   f.resumeID,
		ViewOnly:   f.viewOnly,
		Room:       f.room,
	}
}

func run(ctx context.Context, cfg config.Config, launch connection.Launch, in io.Reader, out io.Writer) error {
	client, err := app.Build(ctx, cfg, launch, app.Options{Out: out})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("[main] close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return client.Run(ctx) })

	// Stdin is not interruptible; the reader is not part of the group so
	// shutdown never waits on it.
	go func() {
		readLines(ctx, client, in)
		cancel()
	}()

	if cfg.StatusAddr != "" {
		server := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           client.API.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Printf("[main] status api listening on %s", cfg.StatusAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("[main] graceful shutdown failed: %v", err)
				_ = server.Close()
			}
			return nil
		})
	}

	err = g.Wait()
	log.Printf("[main] shutdown complete")
	return err
}

// readLines feeds terminal input to the client until EOF or /quit.
func readLines(ctx context.Context, client *app.App, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "/quit" || line == "/exit" {
			return
		}
		if err := client.HandleLine(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[main] input: %v", err)
	}
}
