package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aq2208/portfolio-api/configs"
	"github.com/aq2208/portfolio-api/internal/adapter/cache"
	grpcadapter "github.com/aq2208/portfolio-api/internal/adapter/grpc"
	httpadapter "github.com/aq2208/portfolio-api/internal/adapter/http"
	"github.com/aq2208/portfolio-api/internal/adapter/http/middleware"
	"github.com/aq2208/portfolio-api/internal/adapter/kafka"
	"github.com/aq2208/portfolio-api/internal/adapter/queue"
	"github.com/aq2208/portfolio-api/internal/adapter/taskevents"
	"github.com/aq2208/portfolio-api/internal/logging"
	"github.com/aq2208/portfolio-api/internal/security"
	"github.com/aq2208/portfolio-api/internal/tasks"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health service and the event consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, cfg)
		},
	}
}

// closers run in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// Run wires every component from cfg and blocks until ctx is done or a
// server fails, then shuts everything down.
func Run(ctx context.Context, cfg configs.Config) error {
	logging.Init(logging.Options{Component: cfg.App.Name, Level: cfg.App.LogLevel, FilePath: cfg.App.LogFile})
	log := logging.New("app")
	log.Info("starting up", "storage", cfg.Storage.Driver, "http_addr", cfg.App.HTTPAddr, "grpc_addr", cfg.App.GRPCAddr)

	var cleanup closers
	defer cleanup.run()

	// init storage
	st, err := openStorage(ctx, cfg, true)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = st.close() })

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// init redis (optional)
	var (
		idem       usecase.IdempotencyStore
		orderCache usecase.OrderCache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis: %w", err)
		}
		cleanup.add(func() { _ = rdb.Close() })
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
		orderCache = cache.NewRedisCache(rdb, cfg.Cache.TTL)
	}

	// init rabbitmq (optional)
	var (
		events usecase.EventPublisher
		audit  *queue.Consumer
	)
	if cfg.Rabbit.URL != "" {
		producer, consumer, err := setupRabbit(cfg, promReg, &cleanup)
		if err != nil {
			return err
		}
		events, audit = producer, consumer
	}

	// use cases
	tokens := security.NewJWT(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.Audience, cfg.Security.TTL)
	ledger := usecase.NewOrderLedger(st.orders, idem, orderCache, events)
	catalog := usecase.NewCatalog(st.products)
	auth := usecase.NewAuth(st.users, tokens, security.NewBcryptHasher(cfg.Security.BcryptCost))

	g, gctx := errgroup.WithContext(ctx)
	if audit != nil {
		g.Go(func() error { return audit.Run(gctx) })
	}

	// task registry
	sched := tasks.NewScheduler(cfg.Tasks.MaxConcurrent)
	taskOpts := []tasks.Option{
		tasks.WithFailure(tasks.RandomFailure(cfg.Tasks.FailureOneIn)),
		tasks.WithObserver(tasks.NewMetrics(promReg, sched)),
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.TaskTopic != "" {
		pub := taskevents.NewPublisher(taskevents.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.TaskTopic), 256, logging.New("taskevents"))
		taskOpts = append(taskOpts, tasks.WithObserver(pub))
		g.Go(func() error { return pub.Run(gctx) })
	}
	registry := tasks.NewRegistry(sched, taskOpts...)

	// payment status feed (optional)
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.PaymentTopic != "" {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.App.Name)
		if err != nil {
			return fmt.Errorf("kafka group: %w", err)
		}
		cleanup.add(func() { _ = grp.Close() })
		h := kafka.NewPaymentStatusHandler(ledger)
		consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.PaymentTopic}, h.Handle)
		g.Go(func() error { return consumer.Start(gctx) })
	}

	// http
	router := httpadapter.NewRouter(httpadapter.Handlers{
		Auth:     httpadapter.NewAuthHandler(auth),
		Products: httpadapter.NewProductHandler(catalog),
		Orders:   httpadapter.NewOrderHandler(ledger),
		Tasks:    httpadapter.NewTaskHandler(registry),
	}, httpadapter.RouterDeps{
		Authz:       middleware.NewAuthz(tokens),
		Metrics:     middleware.NewHTTPMetrics(promReg),
		SubmitLimit: middleware.NewRateLimit(cfg.Tasks.SubmitPerMinute),
		Gatherer:    promReg,
		Logger:      logging.New("http"),
	})
	srv := &http.Server{
		Addr: cfg.App.HTTPAddr,
		Handler: cors.Handler(cors.Options{
			AllowedOrigins: cfg.HTTP.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		})(router),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// grpc health
	lis, err := net.Listen("tcp", cfg.App.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	health := grpcadapter.NewHealthServer()

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := health.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		watchStorage(gctx, st, health, log)
		return nil
	})

	health.SetServing(grpcadapter.ServiceAPI, true)
	health.SetServing(grpcadapter.ServiceTasks, true)
	log.Info("ready")

	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, srv, health, sched, log)
		return nil
	})
	return g.Wait()
}

func shutdown(cfg configs.Config, srv *http.Server, health *grpcadapter.HealthServer, sched *tasks.Scheduler, log *slog.Logger) {
	log.Info("shutting down")
	health.SetServing(grpcadapter.ServiceAPI, false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	health.Stop()
	if err := sched.Shutdown(ctx); err != nil {
		log.Warn("task runners did not stop in time", "err", err)
	}
}

// watchStorage keeps the ledger health status in line with storage pings.
func watchStorage(ctx context.Context, st *storage, health *grpcadapter.HealthServer, log *slog.Logger) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := st.ping(pctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("storage ping failed", "err", err)
		}
		health.SetServing(grpcadapter.ServiceLedger, err == nil)
	}
	check()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}

// setupRabbit declares the order events topology and returns the producer
// and, when auditing is on, the audit consumer to run.
func setupRabbit(cfg configs.Config, reg prometheus.Registerer, cleanup *closers) (*queue.RabbitProducer, *queue.Consumer, error) {
	conn, err := amqp091.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	cleanup.add(func() { _ = conn.Close() })

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	producer, err := queue.NewRabbitProducer(ch)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Rabbit.Audit {
		return producer, nil, nil
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	consumer := queue.NewConsumer(consumeCh, reg, queue.WithPrefetch(cfg.Rabbit.Prefetch))
	consumer.Route(queue.AuditQueueName, queue.NewOrderEventsAuditor(reg).Handler())
	return producer, consumer, nil
}
