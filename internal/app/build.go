// Package app wires the client together: persistence, rendering, the
// connection, the voice machine and the local status API.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ent0n29/rhodes-client/internal/audio"
	"github.com/ent0n29/rhodes-client/internal/config"
	"github.com/ent0n29/rhodes-client/internal/connection"
	"github.com/ent0n29/rhodes-client/internal/dispatch"
	"github.com/ent0n29/rhodes-client/internal/httpapi"
	"github.com/ent0n29/rhodes-client/internal/observability"
	"github.com/ent0n29/rhodes-client/internal/render"
	"github.com/ent0n29/rhodes-client/internal/session"
	"github.com/ent0n29/rhodes-client/internal/store"
	"github.com/ent0n29/rhodes-client/internal/transport"
	"github.com/ent0n29/rhodes-client/internal/voice"
)

// Options override the process-level collaborators, mainly for tests.
type Options struct {
	Out    io.Writer
	Store  store.Store
	Dialer transport.Dialer
	Source audio.Source
	Sink   audio.Sink
}

type App struct {
	Config     config.Config
	Store      store.Store
	Session    *session.Manager
	Conn       *connection.Manager
	Voice      *voice.Machine
	Transcript *render.Transcript
	Metrics    *observability.Metrics
	API        *httpapi.Server

	renderer render.Renderer
}

func Build(ctx context.Context, cfg config.Config, launch connection.Launch, opts Options) (*App, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st := opts.Store
	if st == nil {
		st = store.Open(ctx, store.Options{
			Backend:     cfg.StoreBackend,
			FilePath:    cfg.StoreFile,
			RedisAddr:   cfg.RedisAddr,
			RedisPrefix: cfg.RedisPrefix,
			DatabaseURL: cfg.DatabaseURL,
		})
	}
	identity, err := store.LoadIdentity(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load identity: %w", err)
	}
	sess := session.NewManager(session.Seed{
		ClientID:   identity.ClientID,
		TabID:      identity.TabID,
		UserToken:  identity.UserToken,
		GuestToken: identity.GuestToken,
		SessionID:  identity.SessionID,
		Username:   identity.Username,
		Server:     identity.Server,
	})

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	transcript := render.NewTranscript()
	renderer := render.NewTee(render.NewTerminal(out, isTerminal(out)), transcript)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewWSDialer(cfg.WriteTimeout, "rhodes-client/"+cfg.ClientVersion)
	}
	source := opts.Source
	if source == nil {
		source = audio.CommandSource{Command: cfg.CaptureCommand}
	}
	sink := opts.Sink
	if sink == nil {
		sink = audio.CommandSink{Command: cfg.PlayerCommand}
	}

	// The machine is built after the connection it submits to; the hooks
	// only fire once Connect has run.
	var machine *voice.Machine
	conn := connection.New(connection.Options{
		Config:   cfg,
		Launch:   launch,
		Session:  sess,
		Store:    st,
		Dialer:   dialer,
		Renderer: renderer,
		Metrics:  metrics,
		Hooks: connection.Hooks{
			VoiceEnabled: func() bool { return machine.VoiceEnabled() },
			Interrupted:  func() { machine.Interrupt() },
		},
		DispatchHooks: dispatch.Hooks{
			Reply:        func(text string) { machine.ReplyArrived(text) },
			GuestLimit:   func() { machine.Stop() },
			LanguageHint: func(language string) { machine.SetLanguage(language) },
		},
	})

	mode, ok := voice.ParseMode(cfg.VoiceMode)
	if !ok {
		mode = voice.ModePushToTalk
	}
	setup := resolveVoice(cfg, voiceDeps{source: source, sink: sink, metrics: metrics})
	log.Printf("[app] voice %s mode=%s backend=%s", setup.detail, mode, cfg.VoiceBackend)
	machine = voice.NewMachine(conn, voice.Options{
		Mode:            mode,
		VoiceEnabled:    cfg.VoiceEnabled,
		Backend:         cfg.VoiceBackend,
		Recognizer:      setup.recognizer,
		Recorder:        setup.recorder,
		Speaker:         setup.speaker,
		Completeness:    setup.checker,
		Renderer:        renderer,
		Metrics:         metrics,
		ResumeCooldown:  cfg.ResumeCooldown,
		PlaybackCeiling: cfg.PlaybackCeiling,
	})

	return &App{
		Config:     cfg,
		Store:      st,
		Session:    sess,
		Conn:       conn,
		Voice:      machine,
		Transcript: transcript,
		Metrics:    metrics,
		API:        httpapi.New(conn, machine, transcript, metrics),
		renderer:   renderer,
	}, nil
}

// Run connects and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.Conn.Connect()
	a.Voice.Start()
	<-ctx.Done()
	return nil
}

// Close releases media, the channel and the store.
func (a *App) Close() error {
	a.Voice.Close()
	var errs []string
	if err := a.Conn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
