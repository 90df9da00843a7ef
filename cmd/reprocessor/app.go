package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"reprocessor/internal/engine"
	"reprocessor/internal/executor"
	"reprocessor/internal/store/mongostore"
	"reprocessor/internal/store/sqlstore"
	"reprocessor/internal/unitlock"
	"reprocessor/pkg/auth"
	"reprocessor/pkg/cache"
	"reprocessor/pkg/checkpoint"
	"reprocessor/pkg/config"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/metrics"
	"reprocessor/pkg/progress"
	"reprocessor/pkg/ratelimit"
	"reprocessor/pkg/retry"
	"reprocessor/pkg/source"
	"reprocessor/pkg/source/httpsource"
	"reprocessor/pkg/storage"
)

// campaignFlags are shared by the run and links commands.
type campaignFlags struct {
	workers  int
	pageSize int
	start    int
	end      int
}

func (f *campaignFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "number of units processed in parallel")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "items per page")
	cmd.Flags().IntVar(&f.start, "start", 0, "first unit index to process (0-based, inclusive)")
	cmd.Flags().IntVar(&f.end, "end", -1, "last unit index to process (inclusive, -1 for all)")
}

// overrides returns only the flags the user actually set, so config file
// and environment values survive.
func (f *campaignFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if cmd.Flags().Changed("workers") {
		o.Workers = &f.workers
	}
	if cmd.Flags().Changed("page-size") {
		o.PageSize = &f.pageSize
	}
	if cmd.Flags().Changed("start") {
		o.StartIndex = &f.start
	}
	if cmd.Flags().Changed("end") {
		o.EndIndex = &f.end
	}
	return o
}

// progressBackend is what the engine and reset-files need from a store.
type progressBackend interface {
	progress.Store
	progress.FileStore
}

// app holds everything a command bootstrapped. Close releases it.
type app struct {
	cfg     config.Config
	log     logger.Logger
	runID   string
	metrics *metrics.Collector

	closers   []io.Closer
	sqlStores map[string]*sqlstore.Store
	mongo     map[string]*mongo.Client
}

func newApp(o config.Overrides) (*app, error) {
	if logLevel != "" {
		o.LogLevel = &logLevel
	}
	cfg, err := config.Load(configFile, o)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()

	return &app{
		cfg:       cfg,
		log:       log.WithField("run_id", runID),
		runID:     runID,
		metrics:   metrics.NewCollector(),
		closers:   []io.Closer{closer},
		sqlStores: make(map[string]*sqlstore.Store),
		mongo:     make(map[string]*mongo.Client),
	}, nil
}

// Close releases stores and the log file in reverse order of acquisition.
func (a *app) Close() {
	for _, client := range a.mongo {
		_ = client.Disconnect(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.Metrics.Listen == "" {
		return
	}
	go func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen); err != nil {
			a.log.WithError(err).Warn("metrics server stopped")
		}
	}()
	a.log.InfoWithFields("serving metrics", map[string]interface{}{"listen": a.cfg.Metrics.Listen})
}

func (a *app) retrier() *retry.Retrier {
	limiter := ratelimit.PerMinute(a.cfg.RateLimit.RequestsPerMinute)
	return retry.NewRetrier(retry.FromSettings(a.cfg.Retry, a.log, limiter))
}

// storeRetrier retries progress and cache calls. Stores are not rate limited.
func (a *app) storeRetrier() *retry.Retrier {
	return retry.NewRetrier(retry.FromSettings(a.cfg.Retry, a.log.WithField("component", "store"), nil))
}

// sqlStore opens one handle per database and shares it between the progress
// and cache views.
func (a *app) sqlStore(ctx context.Context, sc config.StoreConfig) (*sqlstore.Store, error) {
	key := sc.Backend + "|" + sc.Path + "|" + sc.DSN
	if s, ok := a.sqlStores[key]; ok {
		return s, nil
	}

	var (
		s   *sqlstore.Store
		err error
	)
	if sc.Backend == "postgres" {
		s, err = sqlstore.OpenPostgres(ctx, sc.DSN)
	} else {
		s, err = sqlstore.OpenSQLite(ctx, sc.Path)
	}
	if err != nil {
		return nil, err
	}
	a.sqlStores[key] = s
	a.closers = append(a.closers, s)
	return s, nil
}

func (a *app) mongoDatabase(ctx context.Context, uri, db string) (*mongo.Database, error) {
	client, ok := a.mongo[uri]
	if !ok {
		var err error
		if client, err = mongostore.Connect(ctx, uri); err != nil {
			return nil, err
		}
		a.mongo[uri] = client
	}
	return client.Database(db), nil
}

// progressStore opens the configured progress backend behind a retrying
// decorator. The same value serves dataset records and file progress.
func (a *app) progressStore(ctx context.Context) (progressBackend, error) {
	store, err := a.openProgressStore(ctx)
	if err != nil {
		return nil, err
	}
	return progress.NewRetrying(store, store, a.storeRetrier()), nil
}

func (a *app) openProgressStore(ctx context.Context) (progressBackend, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case "file":
		return checkpoint.NewManager(sc.Path, a.log)
	case "sqlite", "postgres":
		s, err := a.sqlStore(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s.Progress(), nil
	case "mongo":
		db, err := a.mongoDatabase(ctx, sc.MongoURI, sc.MongoDB)
		if err != nil {
			return nil, err
		}
		return mongostore.NewProgressStore(db), nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", sc.Backend)
}

// cacheStore opens the configured cache backend behind a retrying decorator.
func (a *app) cacheStore(ctx context.Context) (cache.Store, error) {
	store, err := a.openCacheStore(ctx)
	if err != nil {
		return nil, err
	}
	return cache.NewRetrying(store, a.storeRetrier()), nil
}

func (a *app) openCacheStore(ctx context.Context) (cache.Store, error) {
	sc := a.cfg.Cache
	switch sc.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "file":
		return storage.NewManager(sc.Path)
	case "sqlite", "postgres":
		s, err := a.sqlStore(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s.Cache(), nil
	case "mongo":
		db, err := a.mongoDatabase(ctx, sc.MongoURI, sc.MongoDB)
		if err != nil {
			return nil, err
		}
		return mongostore.NewCacheStore(db), nil
	}
	return nil, fmt.Errorf("unsupported cache backend %q", sc.Backend)
}

// remoteSource is a record source that can also enumerate its units.
type remoteSource interface {
	source.Source
	source.UnitLister
}

// recordSource opens the configured remote source behind a retrying
// decorator.
func (a *app) recordSource(ctx context.Context) (*source.Retrying, error) {
	if err := a.cfg.ValidateSource(); err != nil {
		return nil, err
	}

	sc := a.cfg.Source
	var src remoteSource
	switch sc.Kind {
	case "http":
		src = httpsource.NewClient(sc.BaseURL, sc.Timeout, a.sourceToken(), a.log)
	case "mongo":
		db, err := a.mongoDatabase(ctx, sc.MongoURI, sc.MongoDB)
		if err != nil {
			return nil, err
		}
		src = mongostore.NewRecordSource(db, sc.RecordsCollection, sc.DatasetsCollection)
	default:
		return nil, fmt.Errorf("unsupported source kind %q", sc.Kind)
	}
	return source.NewRetrying(src, a.retrier()), nil
}

// sourceToken prefers the configured token and falls back to the token
// stored under source.keyring_user.
func (a *app) sourceToken() string {
	sc := a.cfg.Source
	if sc.Token != "" || sc.KeyringUser == "" {
		return sc.Token
	}
	m, err := tokenManager(sc.KeyringService)
	if err != nil {
		a.log.WithError(err).Warn("token store unavailable, continuing unauthenticated")
		return ""
	}
	return auth.ResolveToken(m, "", sc.KeyringUser)
}

func tokenManager(service string) (*auth.Manager, error) {
	if service == "" {
		service = "reprocessor"
	}
	return auth.NewManager(service, "")
}

// runCampaign executes units and prints the summary. It returns
// errIncomplete when any attempted unit is left unfinished.
func (a *app) runCampaign(ctx context.Context, eng *engine.Engine, units []engine.WorkUnit) error {
	opts := executor.Options{
		Workers:    a.cfg.Campaign.Workers,
		RangeStart: a.cfg.Campaign.StartIndex,
		RangeEnd:   a.cfg.Campaign.EndIndex,
		Observer:   a.metrics,
		Logger:     a.log,
	}
	if dir := a.cfg.Campaign.LockDir; dir != "" {
		locks, err := unitlock.New(dir)
		if err != nil {
			return err
		}
		opts.Locker = locks
	}
	exec, err := executor.New(eng, opts)
	if err != nil {
		return err
	}

	summary, runErr := exec.Run(ctx, units)
	fmt.Println(renderSummary(summary))
	if runErr != nil {
		return runErr
	}
	if !summary.OK() {
		return fmt.Errorf("%w: %d failed, %d stopped, %d locked",
			errIncomplete, summary.Failed, summary.Stopped, summary.Locked)
	}
	return nil
}

// orderedUnits numbers ids in the order given.
func orderedUnits(ids []string, kind engine.Kind) []engine.WorkUnit {
	units := make([]engine.WorkUnit, len(ids))
	for i, id := range ids {
		units[i] = engine.WorkUnit{ID: id, OrderedIndex: i, Kind: kind}
	}
	return units
}
