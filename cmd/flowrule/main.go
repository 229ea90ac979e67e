package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/flowrule/flowrule/internal/analytics"
	"github.com/flowrule/flowrule/internal/api"
	"github.com/flowrule/flowrule/internal/circuitbreaker"
	"github.com/flowrule/flowrule/internal/collaborator"
	"github.com/flowrule/flowrule/internal/config"
	"github.com/flowrule/flowrule/internal/executor"
	"github.com/flowrule/flowrule/internal/leaderelection"
	"github.com/flowrule/flowrule/internal/matcher"
	"github.com/flowrule/flowrule/internal/metrics"
	"github.com/flowrule/flowrule/internal/retry"
	"github.com/flowrule/flowrule/internal/stats"
	"github.com/flowrule/flowrule/internal/store/postgres"
	"github.com/flowrule/flowrule/internal/sweeper"
	"github.com/flowrule/flowrule/internal/transport/channel"
	"github.com/flowrule/flowrule/internal/worker"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`flowrule - rule-driven CRM automation engine

Usage:
  flowrule <command>

Commands:
  serve      Start the trigger API, worker and sweeper
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for outcome analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  CONFIG_FILE               Optional YAML file; env vars override it

  WORKER_SCHEDULE           Cron spec for worker passes (default: "@every 1m")
  WORKER_BATCH_SIZE         Max jobs claimed per pass (default: "50")
  WORKER_MAX_ATTEMPTS       Attempts before a job is abandoned (default: "3")
  WORKER_PARALLELISM        Concurrent job executions per pass (default: "4")

  SWEEP_ENABLED             Enable stale job sweeper (default: "false")
  SWEEP_INTERVAL            How often to sweep (default: "5m")
  SWEEP_THRESHOLD           Age before a processing job is stale (default: "15m")
  SWEEP_BATCH_SIZE          Max stale jobs per cycle (default: "100")

  SMS_SERVICE_URL           SMS collaborator endpoint (optional)
  EMAIL_SERVICE_URL         Email collaborator endpoint (optional)
  TASK_SERVICE_URL          Task collaborator endpoint (optional)
  CRM_SERVICE_URL           Pipeline collaborator endpoint (optional)
  COLLABORATOR_TIMEOUT      Per-call collaborator timeout (default: "10s")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a collaborator
                            endpoint trips; 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a tripped endpoint is probed (default: "2m")

  OUTCOME_BUFFER_SIZE       Outcome bus buffer size (default: "256")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("flowrule: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	if err := store.EnsureSchema(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to apply schema: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("flowrule: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("flowrule: METRICS_ENABLED not set; metrics disabled")
	}

	bus := channel.NewOutcomeBus(cfg.OutcomeBufferSize)

	// Collaborator bridge with optional circuit breaker
	bridge := collaborator.NewBridge(collaborator.Config{
		SMSServiceURL:   cfg.SMSServiceURL,
		EmailServiceURL: cfg.EmailServiceURL,
		TaskServiceURL:  cfg.TaskServiceURL,
		CRMServiceURL:   cfg.CRMServiceURL,
		Timeout:         cfg.CollaboratorTimeout,
	})
	if cfg.CircuitBreakerThreshold > 0 {
		bridge = bridge.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("flowrule: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	aggregator := stats.New(store)

	exec := executor.New(store, store, aggregator, executor.Collaborators{
		Messenger: bridge,
		Mailer:    bridge,
		Tasks:     bridge,
		Pipeline:  bridge,
	}).WithPolicy(retry.Policy{
		MaxAttempts: cfg.WorkerMaxAttempts,
		Backoff:     retry.DefaultBackoff,
	}).WithOutcomes(bus)
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}

	match := matcher.New(store)
	if metricsSink != nil {
		match = match.WithMetrics(metricsSink)
	}

	wrk := worker.New(worker.Config{
		BatchSize:   cfg.WorkerBatchSize,
		MaxAttempts: cfg.WorkerMaxAttempts,
		Parallelism: cfg.WorkerParallelism,
	}, store, exec)
	if metricsSink != nil {
		wrk = wrk.WithMetrics(metricsSink)
	}

	// Worker passes run on a cron cadence. robfig/cron fires an entry
	// even while the previous invocation is still running, so a TryLock
	// keeps passes from overlapping.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	var passMu sync.Mutex
	cronRunner := cron.New()
	_, err = cronRunner.AddFunc(cfg.WorkerSchedule, func() {
		if !passMu.TryLock() {
			log.Println("flowrule: previous worker pass still running, skipping")
			return
		}
		defer passMu.Unlock()
		if _, err := wrk.RunPass(workerCtx); err != nil {
			log.Printf("flowrule: worker pass error: %v", err)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid WORKER_SCHEDULE %q: %v\n", cfg.WorkerSchedule, err)
		cancelWorker()
		return exitInvalidConfig
	}
	cronRunner.Start()

	// Analytics consumer if Redis is configured
	var consumerWg sync.WaitGroup
	var cancelConsumer context.CancelFunc
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		consumer := analytics.NewConsumer(analytics.NewRedisSink(redisClient, analytics.DefaultRetention))

		var consumerCtx context.Context
		consumerCtx, cancelConsumer = context.WithCancel(context.Background())
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			consumer.Run(consumerCtx, bus.Channel())
		}()
		log.Printf("flowrule: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("flowrule: REDIS_ADDR not set; analytics disabled")
	}

	// Sweeper runs on the elected leader only: concurrent sweeps would
	// requeue the same stale jobs on every instance.
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc
	if cfg.SweepEnabled {
		swp := sweeper.New(sweeper.Config{
			Interval:  cfg.SweepInterval,
			Threshold: cfg.SweepThreshold,
			BatchSize: cfg.SweepBatchSize,
		}, store)
		if metricsSink != nil {
			swp = swp.WithMetrics(metricsSink)
		}

		var sweepWg sync.WaitGroup
		onElected := func(ctx context.Context) {
			sweepWg.Add(1)
			go func() {
				defer sweepWg.Done()
				swp.Run(ctx)
			}()
		}
		onDemoted := func() {
			sweepWg.Wait()
		}

		elector := leaderelection.New(db, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
			onElected, onDemoted)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("flowrule: sweeper enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.SweepInterval, cfg.SweepThreshold, cfg.SweepBatchSize)
	} else {
		log.Println("flowrule: SWEEP_ENABLED not set; sweeper disabled")
	}

	// HTTP server: trigger API plus optional metrics endpoint
	apiHandler := api.NewHandler(store, match).WithHealthChecker(db)
	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("flowrule: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("flowrule: http server error: %v", err)
		}
	}()

	log.Printf("flowrule: started (schedule=%q, http=%s)", cfg.WorkerSchedule, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("flowrule: received signal %v, shutting down", received)

	// Phase 1: Stop HTTP server so no new triggers are accepted
	log.Println("flowrule: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("flowrule: http server shutdown error: %v", err)
	}
	log.Println("flowrule: http server stopped")

	// Phase 2: Stop the cron cadence and let the in-flight pass finish
	log.Println("flowrule: stopping worker...")
	<-cronRunner.Stop().Done()
	cancelWorker()
	log.Println("flowrule: worker stopped")

	// Phase 3: Stop the elector; demotes the leader and waits for the sweeper
	if cancelElector != nil {
		log.Println("flowrule: stopping sweeper...")
		cancelElector()
		electorWg.Wait()
		log.Println("flowrule: sweeper stopped")
	}

	// Phase 4: Stop the analytics consumer (drains buffered outcomes)
	if cancelConsumer != nil {
		log.Println("flowrule: stopping analytics consumer (draining outcomes)...")
		cancelConsumer()
		consumerWg.Wait()
		log.Println("flowrule: analytics consumer stopped")
	}

	log.Println("flowrule: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("flowrule version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
