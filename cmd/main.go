package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"rentalBack/internal/config"
	"rentalBack/internal/rental"
	"rentalBack/internal/rental/events"
	rentalhttp "rentalBack/internal/rental/http"
	"rentalBack/internal/rental/push"
	"rentalBack/internal/rental/store"
	"rentalBack/internal/rental/store/firestorestore"
	"rentalBack/internal/rental/store/memstore"
	"rentalBack/internal/rental/store/redisstore"
	"rentalBack/internal/rental/store/sqlstore"
)

type application struct {
	cfg    config.Config
	logger *logrus.Logger
	rental *rental.RentalDeps
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	addr := flag.String("addr", cfg.Server.Address, "HTTP network address")
	issueFor := flag.String("issue-token", "", "print a 24h access token for this uid and exit")
	flag.Parse()

	if *issueFor != "" {
		tok, err := rentalhttp.IssueToken([]byte(cfg.Auth.JWTSecret), *issueFor, 24*time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger := newLogger(cfg)
	errorLog := log.New(logger.WriterLevel(logrus.ErrorLevel), "", 0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rentalCfg, err := rental.LoadRentalConfig()
	if err != nil {
		logger.Fatalf("rental config: %v", err)
	}

	be, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer closeBackend()

	deps := &rental.RentalDeps{
		Store:      be.store,
		Logger:     logger,
		Config:     rentalCfg,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Tokens:     be.tokens,
	}
	if be.messenger != nil {
		deps.Notifier = push.NewFCMSender(be.messenger, be.tokens, logger)
	}
	if cfg.RabbitMQ.URL != "" {
		publisher := events.NewPublisher(cfg.RabbitMQ.URL, logger)
		defer publisher.Close()
		deps.Publisher = publisher

		handler, err := rental.EventHandler(deps)
		if err != nil {
			logger.Fatalf("rental module: %v", err)
		}
		startEventConsumer(ctx, cfg.RabbitMQ.URL, handler, logger)
	}

	app := &application{cfg: cfg, logger: logger, rental: deps}
	handler, err := app.routes()
	if err != nil {
		logger.Fatalf("routes: %v", err)
	}
	if err := rental.StartRentalWorkers(ctx, deps); err != nil {
		logger.Fatalf("rental workers: %v", err)
	}

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         *addr,
		ErrorLog:     errorLog,
		Handler:      c.Handler(handler),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	rental.ShutdownRental(deps)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Log.Format == "json" {
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

type backend struct {
	store     store.Store
	tokens    push.Tokens
	messenger push.Messenger
}

// openBackend builds the configured store. The returned func releases
// every connection it opened.
func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (backend, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return backend{}, closeAll, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
	}

	var app *firebase.App
	if cfg.Firebase.CredentialsFile != "" || cfg.Firebase.ProjectID != "" {
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		var err error
		app, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
		if err != nil {
			return backend{}, closeAll, err
		}
	}

	var b backend
	if app != nil {
		client, err := app.Messaging(ctx)
		if err != nil {
			return backend{}, closeAll, err
		}
		b.messenger = client
	}

	switch cfg.Store.Driver {
	case "firestore":
		if app == nil {
			return backend{}, closeAll, errors.New("firestore store requires firebase configuration")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return backend{}, closeAll, err
		}
		closers = append(closers, func() { _ = client.Close() })
		b.store = firestorestore.New(client, logger)
		b.tokens = push.NewFirestoreTokens(client)

	case "sql":
		db, dialect, err := openDB(ctx, cfg)
		if err != nil {
			return backend{}, closeAll, err
		}
		closers = append(closers, func() { _ = db.Close() })
		// Without redis the bus and counters stay in this process.
		var (
			bus      sqlstore.Bus   = sqlstore.NewLocalBus()
			counters store.Counters = memstore.New()
		)
		if rdb != nil {
			bus = redisstore.NewBus(rdb, logger)
			counters = redisstore.NewCounters(rdb, logger)
		}
		sqlStore := sqlstore.New(db, dialect, bus, logger)
		b.store = store.Composite{Reservations: sqlStore, Watermarks: sqlStore, Counters: counters}
		b.tokens = push.NewSQLTokens(db, dialect.Rebind)

	default:
		mem := memstore.New()
		if rdb != nil {
			b.store = store.Composite{Reservations: mem, Watermarks: mem, Counters: redisstore.NewCounters(rdb, logger)}
		} else {
			b.store = mem
		}
		b.tokens = push.NewMemoryTokens()
	}
	logger.Infof("store backend: %s", cfg.Store.Driver)
	return b, closeAll, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, sqlstore.Dialect, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, "", err
	}
	db, err := sqlstore.Open(dialect, cfg.Database.URL)
	if err != nil {
		return nil, "", err
	}
	if cfg.Database.Migrate {
		if err := sqlstore.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, "", err
		}
	}
	return db, dialect, nil
}
