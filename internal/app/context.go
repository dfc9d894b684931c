// Package app builds the services shared by the CLI and the HTTP server from
// a loaded config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loopz/internal/auth"
	"loopz/internal/config"
	"loopz/internal/db"
	"loopz/internal/engine"
	"loopz/internal/generate"
	"loopz/internal/llm"
	"loopz/internal/logging"
	"loopz/internal/migrate"
	"loopz/internal/repo"
)

// App holds the wired services. Close releases the database.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Auth   auth.Service
	Log    *slog.Logger
}

type Options struct {
	// Workspace anchors relative sqlite paths.
	Workspace string
	LogWriter io.Writer
	// Completer replaces the OpenAI client when set.
	Completer generate.Completer
}

// LoadConfig reads loopz.yml from workspace and overlays values from lookup,
// keyed by dotted config path (llm.api_key, auth.jwt_secret, database.dsn).
func LoadConfig(workspace string, lookup func(key string) string) (*config.Config, error) {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return nil, err
	}
	if lookup == nil {
		return cfg, nil
	}
	overlay := map[string]*string{
		"server.addr":      &cfg.Server.Addr,
		"server.base_path": &cfg.Server.BasePath,
		"database.driver":  &cfg.Database.Driver,
		"database.dsn":     &cfg.Database.DSN,
		"database.path":    &cfg.Database.Path,
		"llm.base_url":     &cfg.LLM.BaseURL,
		"llm.api_key":      &cfg.LLM.APIKey,
		"llm.model":        &cfg.LLM.Model,
		"auth.jwt_secret":  &cfg.Auth.JWTSecret,
		"log.level":        &cfg.Log.Level,
		"log.format":       &cfg.Log.Format,
	}
	for key, dst := range overlay {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	if v := strings.TrimSpace(lookup("llm.timeout")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("llm.timeout: %w", err)
		}
		cfg.LLM.Timeout = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open connects and migrates the database, then wires the engine and auth
// services on top of it.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	log := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: w})

	dbCfg := db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Path: cfg.Database.Path}
	if dbCfg.Driver == db.DriverSQLite && dbCfg.DSN == "" && dbCfg.Path != "" && !filepath.IsAbs(dbCfg.Path) && opts.Workspace != "" {
		dbCfg.Path = filepath.Join(opts.Workspace, dbCfg.Path)
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn, dbCfg.Driver)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", "schema_version", version, "driver", driverName(dbCfg.Driver))

	r := repo.Repo{DB: conn, Driver: driverName(dbCfg.Driver)}
	completer := opts.Completer
	if completer == nil {
		completer = llm.NewClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	}
	gen := generate.Service{
		Completer:      completer,
		Tokens:         llm.NewTokenizerForModel(cfg.LLM.Model),
		MaxInputTokens: cfg.LLM.MaxInputTokens,
		Log:            log.With("component", "generate"),
	}
	return &App{
		Config: cfg,
		DB:     conn,
		Repo:   r,
		Engine: engine.New(r, gen, log.With("component", "engine")),
		Auth: auth.Service{
			Repo:   r,
			Secret: cfg.Auth.JWTSecret,
			TTL:    cfg.Auth.SessionTTL,
			Cost:   cfg.Auth.BcryptCost,
		},
		Log: log,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func driverName(d string) string {
	if d == "" {
		return db.DriverSQLite
	}
	return d
}
