package main

import (
	"context"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/username/transferbot/src/browser"
	"github.com/username/transferbot/src/config"
	"github.com/username/transferbot/src/database"
	"github.com/username/transferbot/src/handlers"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/mailreader"
	"github.com/username/transferbot/src/parsers/batchcsv"
	"github.com/username/transferbot/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	inputPath := flag.String("input", "", "run a batch CSV directly and exit, without the dashboard")
	headful := flag.Bool("headful", false, "run the browser visibly (overrides HEADLESS)")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	if *headful {
		config.Cfg.Headless = false
	}

	logger.L.Info("Transferbot starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	mailbox := mailreader.New(
		config.Cfg.IMAPHost,
		config.Cfg.IMAPPort,
		config.Cfg.MailUser,
		config.Cfg.MailPassword,
		config.Cfg.KnownSender,
		config.Cfg.MailPollInterval,
	)
	driverFactory := func(headless bool) services.BrowserDriver {
		return browser.NewSession(headless)
	}

	if *inputPath != "" {
		runBatchDirect(*inputPath, mailbox, driverFactory)
		return
	}

	jobService := services.NewJobService(config.Cfg, database.DB, mailbox, driverFactory)

	jobHandler := handlers.NewJobHandler(jobService)
	configHandler := handlers.NewConfigHandler()
	transferHandler := handlers.NewTransferHandler()

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", handlers.HandleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Post("/run", jobHandler.HandleRun)
		r.Get("/jobs", jobHandler.HandleJobs)
		r.Get("/status/{jobID}", jobHandler.HandleStatus)
		r.Get("/logs/{jobID}", jobHandler.HandleLogs)
		r.Post("/stop_all", jobHandler.HandleStopAll)
		r.Post("/fetch_accounts", jobHandler.HandleFetchAccounts)
		r.Get("/accounts/{jobID}", jobHandler.HandleAccounts)

		r.Get("/setup_status", configHandler.HandleSetupStatus)
		r.Post("/save_config", configHandler.HandleSaveConfig)

		r.Get("/transfers", transferHandler.HandleListTransfers)
		r.Get("/transfers/{jobID}", transferHandler.HandleJobTransfers)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}

// runBatchDirect runs a batch from the command line, logging to stdout.
// Ctrl-C cancels the run; in-flight work is marked failed and the process
// exits non-zero.
func runBatchDirect(path string, mailbox services.CodeMailbox, factory services.DriverFactory) {
	if !config.Cfg.HasPortalCredentials() || !config.Cfg.HasMailCredentials() {
		logger.L.Error("Portal and mailbox credentials must be configured for a direct run")
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		logger.L.Error("Failed to open batch file", "path", path, "error", err)
		os.Exit(1)
	}
	requests, err := batchcsv.NewParser().Parse(f)
	f.Close()
	if err != nil {
		logger.L.Error("Failed to parse batch file", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(logger.ToContext(context.Background(), logger.L), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter := services.NewLogEmitter(logger.L)
	transfers := services.NewTransferService(factory, mailbox, config.Cfg, emitter)
	batch := services.NewBatchService(transfers, emitter, database.DB, config.Cfg.Delays)

	jobID := "cli-" + uuid.New().String()
	state, err := batch.Run(ctx, jobID, requests)
	if err != nil {
		logger.L.Error("Batch run stopped", "jobID", jobID, "error", err)
		os.Exit(1)
	}
	logger.L.Info("Batch run finished", "jobID", jobID, "passes", state.Pass, "done", len(state.Done))
}
