package tipd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tipledger/config"
	"tipledger/core/events"
	"tipledger/core/state"
	"tipledger/gateway/middleware"
	"tipledger/gateway/routes"
	"tipledger/native/bank"
	"tipledger/native/tipping"
	"tipledger/observability"
	"tipledger/rpc"
	"tipledger/storage"
)

// Node bundles the ledger engine with its transfer scheduler and HTTP surface.
type Node struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        storage.Database
	engine    *tipping.Engine
	stream    *events.Stream
	scheduler *bank.Scheduler
	registry  *prometheus.Registry
	handler   http.Handler
}

// NewNode wires a node over db. The node owns db and closes it on Close.
func NewNode(cfg *config.Config, db storage.Database, logger *slog.Logger) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("tipd: config required")
	}
	if db == nil {
		return nil, errors.New("tipd: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return nil, err
	}
	engine, err := tipping.NewEngine(ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("tipd: ledger: %w", err)
	}
	engine.SetState(state.NewManager(db))
	engine.SetLogger(logger.With(slog.String("component", "tipping")))

	registry := prometheus.NewRegistry()
	rpcMetrics := observability.NewRPCMetrics(registry)
	ledgerMetrics := observability.NewLedgerMetrics(registry)
	queries := engine.Queries()
	ledgerMetrics.TrackAccounts(func() float64 {
		counters, err := queries.Counters()
		if err != nil {
			return 0
		}
		return float64(counters.UserCount)
	})

	stream := events.NewStream(0)
	engine.SetEmitter(events.MultiEmitter{stream, ledgerMetrics})

	sender, err := newSender(cfg.Transfers, logger)
	if err != nil {
		return nil, err
	}
	scheduler := bank.NewScheduler(sender, engine,
		bank.WithWorkers(cfg.Transfers.Workers),
		bank.WithQueueSize(cfg.Transfers.QueueSize),
		bank.WithMaxAttempts(cfg.Transfers.MaxAttempts),
		bank.WithBackoff(cfg.Transfers.Backoff()),
		bank.WithLogger(logger.With(slog.String("component", "bank"))),
	)
	engine.SetTransferScheduler(scheduler)

	server, err := rpc.NewServer(engine, stream, rpc.ServerConfig{
		AllowCallerParam: cfg.Auth.AllowCallerParam,
		Logger:           logger,
		RPCMetrics:       rpcMetrics,
		LedgerMetrics:    ledgerMetrics,
	})
	if err != nil {
		return nil, err
	}

	var authenticator *middleware.Authenticator
	if cfg.Auth.Enabled {
		secret, err := cfg.Auth.Secret()
		if err != nil {
			return nil, err
		}
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        true,
			HMACSecret:     secret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ClockSkew:      cfg.Auth.ClockSkew(),
			AllowAnonymous: true,
		}, logger)
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
		Burst:             cfg.RateLimit.Burst,
	}, logger, rpcMetrics.RecordThrottle)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "tipd",
		Enabled:     cfg.Observability.Metrics,
		LogRequests: cfg.Observability.LogRequests,
	}, logger, registry)

	handler, err := routes.New(routes.Config{
		RPC:           server,
		Stream:        http.HandlerFunc(server.HandleTipStream),
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Observability: obs,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(handler, "tipd")
	}

	return &Node{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		engine:    engine,
		stream:    stream,
		scheduler: scheduler,
		registry:  registry,
		handler:   handler,
	}, nil
}

func newSender(cfg config.TransferConfig, logger *slog.Logger) (bank.Sender, error) {
	if cfg.Endpoint == "" {
		return bank.LogSender{Logger: logger.With(slog.String("component", "bank"))}, nil
	}
	return bank.NewHTTPSender(cfg.Endpoint, cfg.Timeout())
}

// Start launches the transfer workers and re-dispatches receipts a previous
// run left scheduled. Cancelling ctx does not stop delivery; Close drains the
// queue.
func (n *Node) Start(ctx context.Context) error {
	if err := n.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if _, err := n.engine.ResumeTransfers(); err != nil {
		return fmt.Errorf("tipd: resume transfers: %w", err)
	}
	return nil
}

// Handler returns the HTTP surface of the node.
func (n *Node) Handler() http.Handler { return n.handler }

// Engine exposes the ledger engine.
func (n *Node) Engine() *tipping.Engine { return n.engine }

// Close settles every queued transfer and closes the database.
func (n *Node) Close() error {
	n.scheduler.Close()
	return n.db.Close()
}
