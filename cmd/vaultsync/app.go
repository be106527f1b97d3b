package main

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/internal/config"
	"github.com/forest6511/vaultsync/pkg/audit"
	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/crypto"
	"github.com/forest6511/vaultsync/pkg/offline"
	"github.com/forest6511/vaultsync/pkg/queue"
	"github.com/forest6511/vaultsync/pkg/store"
	"github.com/forest6511/vaultsync/pkg/vault"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *store.DB
	audit  *audit.Logger
	vault  *vault.Vault
	router *cache.Router
	queue  *queue.Queue
	client *offline.Client
}

// newApp opens the store and wires the vault, cache router, queue and
// client over it. A nil transport means http.DefaultTransport.
func newApp(cfg *config.Config, logger *zap.Logger, source string, transport http.RoundTripper) (*app, error) {
	db, err := store.Open(cfg.DBPath(store.DefaultFileName), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	deviceKey, err := audit.DeviceKey(db.KV())
	if err != nil {
		db.Close()
		return nil, err
	}
	auditLog := audit.NewLogger(db.Audit(), audit.WithSource(source), audit.WithLogger(logger))
	err = auditLog.SetHMACKey(deviceKey)
	crypto.SecureWipe(deviceKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	routes, err := cache.LoadRoutesOrDefault(cfg.RoutesFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	upstream := transport
	if upstream == nil {
		upstream = http.DefaultTransport
	}

	router := cache.NewRouter(db.Cache(), routes,
		cache.WithTransport(upstream),
		cache.WithNetworkTimeout(cfg.RequestTimeout),
		cache.WithLogger(logger.Named("cache")))

	q := queue.New(db.Queue(),
		queue.NewHTTPReplayer(&http.Client{Transport: upstream}),
		queue.WithLogger(logger.Named("queue")),
		queue.WithRecorder(auditLog.QueueRecorder()))

	client := offline.New(router, q,
		offline.WithMutationPatterns(cfg.MutationPatterns),
		offline.WithRequestTimeout(cfg.RequestTimeout),
		offline.WithLogger(logger.Named("offline")))

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		audit:  auditLog,
		vault:  vault.New(db.KV(), vault.WithAudit(auditLog), vault.WithLogger(logger.Named("vault"))),
		router: router,
		queue:  q,
		client: client,
	}, nil
}

// Close waits for background cache refreshes and closes the store.
func (a *app) Close() error {
	err := errors.Join(a.router.Close(), a.db.Close())
	_ = a.logger.Sync()
	return err
}
