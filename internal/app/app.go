// Package app wires configuration, stores, the sync engine and the HTTP
// surface into a single runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"convosync/internal/reconcile"
	"convosync/pkg/chat"
	"convosync/pkg/config"
	"convosync/pkg/knowledge"
	"convosync/pkg/llm"
	"convosync/pkg/logger"
	"convosync/pkg/migrate"
	"convosync/pkg/session"
	"convosync/pkg/state"
	"convosync/pkg/storage"
	"convosync/pkg/storage/pebblestore"
	"convosync/pkg/storage/pgstore"
	"convosync/pkg/syncer"
	"convosync/pkg/tree"
	"convosync/pkg/vault"
)

// App encapsulates the engine components and lifecycle.
type App struct {
	cfg     *config.Config
	addr    string
	version string

	st        *state.Store
	creds     *vault.FileVault
	secondary *pebblestore.Store
	primary   *pgstore.Store
	gate      session.StaticGate
	svc       *chat.Service
	sc        *syncer.Coordinator
	mc        *migrate.Coordinator

	// closed when the background sync loop exits; nil when sync is off.
	syncDone <-chan struct{}

	srv *http.Server
}

// New initializes resources that do not require a running context: config
// directories, the persisted engine state, both stores and the chat
// service. It does not start background sync or the HTTP server; call Run
// to start those and block until shutdown.
func New(cfg *config.Config, addr, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := state.EnsureStateDirs(cfg.Storage.DataPath); err != nil {
		return nil, fmt.Errorf("state dirs under %s: %w", cfg.Storage.DataPath, err)
	}

	st, err := state.OpenStore(state.PathsVar.State)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	creds, err := vault.OpenFile(state.PathsVar.State)
	if err != nil {
		return nil, fmt.Errorf("open credential vault: %w", err)
	}

	secondary, err := pebblestore.Open(state.PathsVar.Store)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", state.PathsVar.Store, err)
	}

	primary := pgstore.New(resolveDSN(cfg, creds))

	gate := session.StaticGate{UserID: cfg.Session.UserID}
	if gate.UserID == "" {
		logger.Warn("no_user_configured", "hint", "set session.user_id or CONVOSYNC_USER_ID")
	}

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}

	var opts []llm.Option
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.Model != "" {
		opts = append(opts, llm.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	if kb.Persona != "" {
		opts = append(opts, llm.WithSystemPrompt(kb.Persona))
	}
	completer := llm.NewClient(apiKeyFunc(cfg, creds), opts...)

	svc := chat.NewService(tree.New(), primary, secondary, gate, completer, kb)
	sc := syncer.New(primary, secondary, st)
	mc := migrate.NewCoordinator(st, primary, secondary, migrate.FileSource{Dir: state.PathsVar.Legacy})

	return &App{
		cfg:       cfg,
		addr:      addr,
		version:   version,
		st:        st,
		creds:     creds,
		secondary: secondary,
		primary:   primary,
		gate:      gate,
		svc:       svc,
		sc:        sc,
		mc:        mc,
	}, nil
}

// Run performs the startup sequence (legacy migration, initial load and
// sync, background loops) and serves HTTP until ctx is canceled or a
// fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.startup(ctx)

	var stopReconcile context.CancelFunc
	if expr := a.cfg.Sync.ReconcileCron; expr != "" {
		stop, err := reconcile.Start(ctx, a.sc, a.gate, expr)
		if err != nil {
			return fmt.Errorf("reconcile schedule %q: %w", expr, err)
		}
		stopReconcile = stop
	}

	errCh := a.startHTTP()
	logger.Info("listening", "addr", a.addr, "version", a.version)

	defer a.close(stopReconcile)
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startup runs the launch sequence the engine performs once per process:
// migrate the legacy blob, hydrate the tree, then a first sync pass.
// Failures here degrade rather than abort; the HTTP surface still comes
// up so local reads keep working while the primary is unreachable.
func (a *App) startup(ctx context.Context) {
	userID, ok := a.gate.CurrentUserID()
	if ok {
		if n, err := a.mc.Migrate(ctx, userID); err != nil {
			if storage.IsRecoverable(err) {
				logger.Warn("migration_deferred", "user", userID, "error", err)
			} else {
				logger.Error("migration_failed", "user", userID, "error", err)
			}
		} else if n > 0 {
			logger.Info("migration_done", "user", userID, "migrated", n)
		}
	}

	if err := a.svc.Load(ctx); err != nil {
		logger.Warn("initial_load_failed", "error", err)
	}

	if a.cfg.Sync.Enabled && ok {
		if err := a.sc.IncrementalSync(ctx, userID); err != nil {
			logger.Warn("initial_sync_failed", "user", userID, "error", err)
		}
		a.syncDone = a.sc.StartBackground(ctx, userID, a.cfg.Sync.Interval)
	}
}

func (a *App) close(stopReconcile context.CancelFunc) {
	if stopReconcile != nil {
		stopReconcile()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.srv != nil {
		_ = a.srv.Shutdown(shutdownCtx)
	}
	// let an in-flight sync tick finish before the store goes away
	if a.syncDone != nil {
		select {
		case <-a.syncDone:
		case <-shutdownCtx.Done():
			logger.Warn("background_sync_drain_timeout")
		}
	}
	if err := a.secondary.Close(); err != nil {
		logger.Error("secondary_close_failed", "error", err)
	}
	logger.Sync()
}

// resolveDSN picks the primary connection string: env wins, then config,
// then the vault entry. Empty is allowed; the primary stays unconfigured
// and per-call errors steer callers to the secondary.
func resolveDSN(cfg *config.Config, creds vault.Vault) string {
	if v := strings.TrimSpace(os.Getenv("CONVOSYNC_PRIMARY_DSN")); v != "" {
		return v
	}
	if cfg.Storage.PrimaryDSN != "" {
		return cfg.Storage.PrimaryDSN
	}
	if v, err := creds.Get(vault.KeyPrimaryDSN); err == nil {
		return v
	}
	return ""
}

// apiKeyFunc resolves the completion API key per request so a key added
// to the vault at runtime is picked up without a restart.
func apiKeyFunc(cfg *config.Config, creds vault.Vault) func() string {
	return func() string {
		if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
			return v
		}
		if cfg.LLM.APIKey != "" {
			return cfg.LLM.APIKey
		}
		if v, err := creds.Get(vault.KeyCompletionAPIKey); err == nil {
			return v
		}
		return ""
	}
}
