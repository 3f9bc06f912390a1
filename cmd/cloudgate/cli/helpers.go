package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/cloudgate-framework/cloudgate/internal/audit"
	"github.com/cloudgate-framework/cloudgate/internal/config"
	"github.com/cloudgate-framework/cloudgate/internal/db"
	"github.com/cloudgate-framework/cloudgate/internal/events"
	"github.com/cloudgate-framework/cloudgate/internal/logging"
	"github.com/cloudgate-framework/cloudgate/internal/native"
	"github.com/cloudgate-framework/cloudgate/internal/plugin"
	"github.com/cloudgate-framework/cloudgate/internal/provider/awsiam"
	"github.com/cloudgate-framework/cloudgate/internal/provider/awssso"
	"github.com/cloudgate-framework/cloudgate/internal/provider/azure"
	"github.com/cloudgate-framework/cloudgate/internal/repository"
	"github.com/cloudgate-framework/cloudgate/internal/secretstore"
	"github.com/cloudgate-framework/cloudgate/internal/session"
	"github.com/cloudgate-framework/cloudgate/internal/vault"
	"github.com/cloudgate-framework/cloudgate/internal/workspace"

	"github.com/cloudgate-framework/cloudgate/internal/core"
)

// App bundles the wired services the commands operate on.
type App struct {
	Config    config.GlobalConfig
	Logger    zerolog.Logger
	Bus       *events.Bus
	Workspace *workspace.Service
	Store     secretstore.Store
	Journal   *audit.Journal
	Manager   *session.Manager
	SSO       *awssso.RoleService
	IAM       *awsiam.Service
	Azure     *azure.Service
	Plugins   *plugin.Facade

	closers []func() error
}

// pluginRegistry holds compiled-in plugins registered at init time.
var pluginRegistry = plugin.NewRegistry()

// loadApp wires the full service graph from the global config.
func loadApp() (*App, error) {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, "")
	bus := events.NewBus()

	repo := repository.New(cfg.WorkspaceDir, bus, logger)
	ws := workspace.NewService(repo)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Bus:       bus,
		Workspace: ws,
	}

	store, closer, err := openSecretStore(cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	if cfg.JournalEnabled {
		if doc, err := ws.GetWorkspace(); err == nil && doc != nil {
			database, err := db.OpenJournalDB(cfg.WorkspaceDir)
			if err != nil {
				return nil, fmt.Errorf("opening journal: %w", err)
			}
			app.closers = append(app.closers, database.Close)
			journal, err := audit.NewJournal(database, doc.ID)
			if err != nil {
				return nil, fmt.Errorf("initializing journal: %w", err)
			}
			app.Journal = journal
		}
	}

	app.SSO = awssso.New(ws, store, bus, logger)
	if cfg.SsoPollTimeout > 0 {
		app.SSO.SetPollTimeout(time.Duration(cfg.SsoPollTimeout) * time.Second)
	}
	app.IAM = awsiam.New(ws, store, bus, logger)
	app.Azure = azure.New(ws, store, bus, logger)

	app.Manager = session.NewManager(ws, store, bus, app.Journal, logger)
	app.Manager.Register(app.SSO)
	app.Manager.Register(app.IAM, core.KindAwsIamUser, core.KindAwsFederated)
	app.Manager.Register(app.Azure)

	app.Plugins = plugin.NewFacade(
		pluginRegistry,
		ws,
		app.Manager,
		native.NewExecuteService(logger),
		native.NewService(logger),
		logger,
	)
	return app, nil
}

// Close releases held resources (vault, journal database).
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
}

func openSecretStore(cfg config.GlobalConfig) (secretstore.Store, func() error, error) {
	switch cfg.SecretMode {
	case config.SecretModeMemoryOnly:
		return secretstore.NewMemoryStore(), nil, nil

	case config.SecretModeFileVault:
		passphrase, err := promptPassphrase("Vault passphrase: ")
		if err != nil {
			return nil, nil, err
		}
		v, err := vault.OpenOrCreate(filepath.Join(cfg.WorkspaceDir, vault.FileName), passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("opening vault: %w", err)
		}
		return v, v.Close, nil

	default:
		store, err := secretstore.OpenKeyring(
			filepath.Join(cfg.WorkspaceDir, "keyring"),
			func(prompt string) (string, error) {
				return promptPassphrase(prompt + ": ")
			},
		)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(passBytes), nil
}
