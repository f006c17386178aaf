package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"RampTracker/internal/aggregator"
	"RampTracker/internal/analytics"
	"RampTracker/internal/chain"
	"RampTracker/internal/config"
	"RampTracker/internal/db"
	"RampTracker/internal/events"
	"RampTracker/internal/observability"
	"RampTracker/internal/reindex"
	"RampTracker/internal/services"
	"RampTracker/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// App is the engine wired from configuration, shared by the api and worker
// processes.
type App struct {
	Config  *config.Config
	Log     *logrus.Entry
	Metrics *observability.Metrics
	Events  *events.Hub
	Journal store.Journal
	Reindex *reindex.Coordinator
	Orders  *services.OrderService

	pool *db.Pool
}

func NewLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func Build(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: observability.NewMetrics(""),
		Events:  events.NewHub(64),
	}

	if cfg.DB.DSN == "" {
		log.Info("db.dsn not set, journal kept in memory")
		a.Journal = store.NewMemory()
	} else {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.pool = pool
		a.Journal = store.New(pool)
	}

	networks := make(map[string]services.Network, len(cfg.Chain.Networks))
	for name, n := range cfg.Chain.Networks {
		client, err := chain.DialEVM(ctx, n.RPCEndpoints, chain.EVMConfig{
			ChainID:       n.ChainID,
			Gateway:       common.HexToAddress(n.Gateway),
			SignerKey:     n.SignerKey,
			FailThreshold: n.RPCFailoverThreshold,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dial network %s: %w", name, err)
		}
		tokens := make(map[string]services.Token, len(n.Tokens))
		for symbol, t := range n.Tokens {
			tokens[strings.ToUpper(symbol)] = services.Token{
				Address:  common.HexToAddress(t.Address),
				Decimals: int(t.Decimals),
			}
		}
		networks[name] = services.Network{Chain: client, Tokens: tokens}
		log.WithFields(logrus.Fields{"network": name, "rpc": len(n.RPCEndpoints), "sender": client.Sender().Hex()}).Info("network ready")
	}

	backend := aggregator.NewClient(cfg.Aggregator.BaseURL,
		aggregator.WithBearerToken(cfg.Aggregator.Token),
		aggregator.WithTimeout(cfg.AggregatorTimeout()),
	)
	a.Reindex = reindex.New(backend, reindex.Config{
		Attempts:  uint64(cfg.Reindex.Attempts),
		BaseDelay: cfg.ReindexBaseDelay(),
	}, log, a.Metrics)

	a.Orders = &services.OrderService{
		Networks:  networks,
		Backend:   backend,
		Reindex:   a.Reindex,
		Journal:   a.Journal,
		Events:    a.Events,
		Analytics: analytics.NewTracker(log, a.Metrics, nil),
		Log:       log.WithField("component", "orders"),
		Metrics:   a.Metrics,
		Settings: services.Settings{
			SubmitPollInterval: cfg.SubmitterPollInterval(),
			ResolutionTimeout:  cfg.ResolutionTimeout(),
			ReconcileInterval:  cfg.ReconcileInterval(),
			Lease:              cfg.Lease(),
			ReindexGrace:       cfg.ReindexGrace(),
			RecordsTimeout:     cfg.RecordsTimeout(),
		},
	}
	return a, nil
}

// Close stops order sessions and reindex retries, then releases the
// database pool.
func (a *App) Close() {
	if a.Orders != nil {
		a.Orders.Close()
	}
	if a.Reindex != nil {
		a.Reindex.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
