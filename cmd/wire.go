package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	rodbrowser "github.com/bnema/accountctl/internal/adapters/browser/rod"
	"github.com/bnema/accountctl/internal/adapters/crypto"
	kvfile "github.com/bnema/accountctl/internal/adapters/kv/file"
	kvredis "github.com/bnema/accountctl/internal/adapters/kv/redis"
	"github.com/bnema/accountctl/internal/adapters/otp"
	statusadapter "github.com/bnema/accountctl/internal/adapters/render/status"
	tomlrepo "github.com/bnema/accountctl/internal/adapters/repo/toml"
	chainstore "github.com/bnema/accountctl/internal/adapters/secrets/chain"
	filestore "github.com/bnema/accountctl/internal/adapters/secrets/file"
	"github.com/bnema/accountctl/internal/application"
	"github.com/bnema/accountctl/internal/config"
	"github.com/bnema/accountctl/internal/domain"
	"github.com/bnema/accountctl/internal/logging"
	"github.com/bnema/accountctl/internal/ports"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const redisDialTimeout = 5 * time.Second

type app struct {
	cfg      config.Config
	logger   *zap.Logger
	accounts *application.AccountService
	proxies  *application.ProxyAllocator
	sessions *application.SessionStore

	// newOrchestrator builds the job runner lazily so commands that never
	// touch the browser do not pay for it.
	newOrchestrator func() (*application.Orchestrator, func() error)

	renderJob      func(domain.Job, statusadapter.RenderOptions) (string, error)
	renderSessions func([]domain.SessionSummary, statusadapter.RenderOptions) (string, error)
	now            func() time.Time

	closers []func() error
}

func wireApp() (*app, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	cfg, err := config.Load(v, dataDir)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}
	assignments, err := tomlrepo.NewProxyAssignmentRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire proxy assignment repository: %w", err)
	}

	secretStore, err := wireSecretStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	records, err := cfg.ProxyRecords()
	if err != nil {
		return nil, err
	}

	sealer, err := wireSealer(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("wire session sealer: %w", err)
	}

	a := &app{
		cfg:            cfg,
		logger:         logger,
		accounts:       application.NewAccountService(repo, secretStore),
		proxies:        application.NewProxyAllocator(records, assignments, logger),
		renderJob:      statusadapter.RenderJob,
		renderSessions: statusadapter.RenderSessions,
		now:            time.Now,
	}

	kv, err := a.wireSessionBackend(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("wire session backend: %w", err)
	}

	platform := cfg.Platform.ToPlatform()
	a.sessions = application.NewSessionStore(kv, sealer, ports.SystemClock{}, application.SessionPolicy{
		AbsoluteTTL:     cfg.Sessions.AbsoluteTTL,
		IdleTTL:         cfg.Sessions.IdleTTL,
		RequiredCookies: platform.RequiredCookies,
	}, logger)

	a.newOrchestrator = func() (*application.Orchestrator, func() error) {
		driver := rodbrowser.NewDriver(rodbrowser.Options{
			Headless:   cfg.Browser.Headless,
			Bin:        cfg.Browser.Bin,
			ControlURL: cfg.Browser.ControlURL,
		}, logger)

		auth := application.NewAuthenticator(a.proxies, a.sessions, driver, otp.Generator{}, application.AuthenticatorOptions{
			Platform:         platform,
			OperationTimeout: cfg.Auth.OperationTimeout,
			RequireProxy:     cfg.Proxies.Required,
			Logger:           logger,
		})

		orchestrator := application.NewOrchestrator(auth, a.accounts, application.OrchestratorOptions{
			Platform:    platform,
			Concurrency: cfg.Jobs.Concurrency,
			Logger:      logger,
			// job run streams the job log to stderr itself.
			DetachJobLogs: true,
		})
		return orchestrator, driver.Close
	}

	return a, nil
}

func wireSecretStore(cfg config.Config) (ports.SecretStore, error) {
	if cfg.Secrets.Backend == config.SecretsBackendFile {
		return filestore.NewStore(cfg.Secrets.Dir), nil
	}
	return chainstore.NewPassFirstWithFileFallback(cfg.Secrets.PassDir, cfg.Secrets.Dir)
}

func wireSealer(cfg config.SessionsConfig) (*crypto.Sealer, error) {
	passphrase := cfg.Passphrase
	if passphrase == "" {
		var err error
		passphrase, err = crypto.LoadOrCreatePassphrase(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
	}

	salt, err := crypto.LoadOrCreateSalt(cfg.SaltPath)
	if err != nil {
		return nil, err
	}

	return crypto.NewPassphraseSealer(passphrase, salt)
}

func (a *app) wireSessionBackend(cfg config.SessionsConfig) (ports.KeyValueStore, error) {
	if cfg.Backend != config.SessionBackendRedis {
		return kvfile.NewStore(cfg.Dir), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	store, err := kvredis.Dial(ctx, kvredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	return store, nil
}

func (a *app) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()

	return errors.Join(errs...)
}
