// Package app assembles the Phantom Pen runtime from configuration: storage,
// the job queue, the memoir pipeline, auth and the event hub.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/auth"
	"github.com/phantompen/pen/internal/cascade"
	"github.com/phantompen/pen/internal/config"
	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/jobs"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/memoir"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/scheduler"
	"github.com/phantompen/pen/internal/storage"
)

// DirName is the data directory under the user's home.
const DirName = ".phantompen"

// DefaultDir returns ~/.phantompen.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// App holds every long-lived component.
type App struct {
	Cfg       *config.Config
	DB        *sql.DB
	Triggers  *db.Triggers
	Queue     *jobs.Queue
	Scheduler *scheduler.Scheduler
	Worker    *memoir.Worker
	Hub       *events.Hub
	Blobs     *storage.Store
	Issuer    *auth.Issuer
	Verifier  *auth.Verifier
	Env       *ops.Env
	Log       *logrus.Logger
}

// Options tweaks Open. The zero value logs to stderr.
type Options struct {
	LogOutput io.Writer

	// Generator, Titler and Transcriber override the configured providers.
	Generator   llm.Generator
	Titler      llm.Titler
	Transcriber llm.Transcriber
}

// Open loads baseDir/config.json and wires the runtime around baseDir/pen.db.
func Open(baseDir string, opts Options) (*App, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	log := logging.Init(out, cfg.Log.Level, cfg.Log.Format)

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	blobs, err := storage.New(filepath.Join(baseDir, storage.DirName))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	gen, titler, transcriber := providers(cfg, log)
	if opts.Generator != nil {
		gen = opts.Generator
	}
	if opts.Titler != nil {
		titler = opts.Titler
	}
	if opts.Transcriber != nil {
		transcriber = opts.Transcriber
	}

	a := &App{
		Cfg:      cfg,
		DB:       database,
		Triggers: db.NewTriggers(),
		Queue:    jobs.New(cfg.WorkerConcurrency),
		Hub:      events.NewHub(),
		Blobs:    blobs,
		Issuer:   auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, cfg.Auth.UploadTTL),
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Log:      log,
	}
	cascade.Register(a.Triggers, a.Queue, log.WithField(logging.FieldComponent, "cascade"))

	a.Worker = memoir.NewWorker(database, a.Triggers, gen, a.Hub, memoir.Options{
		GenerationTimeout:  cfg.GenerationTimeout,
		MaxTranscriptChars: cfg.MaxTranscriptChars,
	}, log.WithField(logging.FieldComponent, "worker"))
	a.Scheduler = scheduler.New(database, a.Triggers, a.Queue, a.Worker, cfg.MemoirDelay,
		log.WithField(logging.FieldComponent, "scheduler"))

	a.Env = &ops.Env{
		DB:          database,
		Cfg:         cfg,
		Triggers:    a.Triggers,
		Scheduler:   a.Scheduler,
		Worker:      a.Worker,
		Blobs:       blobs,
		Transcriber: transcriber,
		Titler:      titler,
		Events:      a.Hub,
		Log:         log.WithField(logging.FieldComponent, "ops"),
	}

	log.WithFields(logrus.Fields{
		"data_dir":     baseDir,
		"llm_provider": cfg.LLM.Provider,
		"memoir_delay": cfg.MemoirDelay,
	}).Debug("runtime ready")
	return a, nil
}

// providers picks the generator, titler and transcriber for cfg.
func providers(cfg *config.Config, log logrus.FieldLogger) (llm.Generator, llm.Titler, llm.Transcriber) {
	if cfg.LLM.Provider == config.ProviderLocal {
		local := llm.NewLocal()
		return local, local, llm.NoTranscriber{}
	}
	client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, log.WithField(logging.FieldComponent, "llm"))
	return llm.NewMemoirGenerator(client, cfg.LLM.Model, cfg.LLM.Temperature),
		llm.NewTitleGenerator(client, cfg.LLM.TitleModel),
		llm.NewSpeechToText(client, cfg.LLM.TranscriptionModel)
}

// Recover re-arms schedules left behind by a previous process.
func (a *App) Recover(ctx context.Context) (*scheduler.RecoverResult, error) {
	res, err := a.Scheduler.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if res.Rearmed > 0 || res.Interrupted > 0 {
		a.Log.WithFields(logrus.Fields{
			"rearmed":     res.Rearmed,
			"interrupted": res.Interrupted,
		}).Info("recovered memoir schedules")
	}
	return res, nil
}

// Close stops the job queue, waiting for running jobs, then closes the hub
// and the database. Timers still pending stay recorded as active schedules.
func (a *App) Close() error {
	a.Queue.Close()
	a.Hub.Close()
	return a.DB.Close()
}
