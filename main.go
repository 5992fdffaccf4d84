package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"runnerhub/booking"
	"runnerhub/chat"
	"runnerhub/chathub"
	"runnerhub/config"
	"runnerhub/db"
	"runnerhub/locks"
	"runnerhub/middleware"
	"runnerhub/models"
	"runnerhub/ratelim"
	"runnerhub/relay"
	"runnerhub/routes"
	"runnerhub/session"
	"runnerhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// securityHeaders applies a set of recommended HTTP security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request method, path, remote address, and duration.
func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("took", time.Since(start)))
	})
}

type healthCheck func(ctx context.Context) error

// Health reports whether storage and the relay are reachable.
func Health(checks map[string]healthCheck) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := utils.M{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		utils.RespondWithJSON(w, status, result)
	}
}

// issueToken prints a development token for "user:role".
func issueToken(secret []byte, who string, ttl time.Duration) error {
	userID, role, ok := strings.Cut(who, ":")
	id := models.Identity{ID: userID, Role: models.Role(role)}
	if !ok || userID == "" || !id.Role.Valid() {
		return fmt.Errorf("want user:role with role requester, provider, moderator or admin, got %q", who)
	}
	tok, err := middleware.IssueToken(secret, id, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func main() {
	tokenFor := pflag.String("issue-token", "", "print a development bearer token for user:role and exit")
	tokenTTL := pflag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens minted with --issue-token")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *tokenFor != "" {
		if err := issueToken([]byte(cfg.JWTSecret), *tokenFor, *tokenTTL); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, err := utils.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]healthCheck{}
	keyed := locks.NewKeyed()

	var (
		bookingRepo booking.Repository
		chatRepo    chat.Repository
	)
	switch cfg.Storage {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		bookingRepo = booking.NewMemoryRepository()
		chatRepo = chat.NewMemoryRepository()
	default:
		client, database, err := openMongo(ctx, cfg)
		if err != nil {
			logger.Fatal("mongo", zap.Error(err))
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		bookingRepo = booking.NewMongoRepository(database.Collection(db.BookingsCollection))
		chatRepo = chat.NewMongoRepository(
			database.Collection(db.MessagesCollection),
			database.Collection(db.ReadCursorsCollection),
		)
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}

	svc := booking.NewService(bookingRepo, keyed, logger)
	store := chat.NewStore(chatRepo, svc, keyed, logger)
	auth := middleware.NewJWTAuthenticator([]byte(cfg.JWTSecret))
	registry := session.NewRegistry(auth, svc)
	hub := chathub.NewHub(registry, store, keyed, logger, chathub.Options{
		QueueSize:      cfg.SendQueue,
		PongWait:       cfg.PongWait,
		AllowedOrigins: cfg.AllowedOrigins(),
	})
	svc.SetListener(hub)

	rateLimiter := ratelim.NewRateLimiter(cfg.SendRate, cfg.SendBurst)
	hub.SetLimiter(rateLimiter)
	go rateLimiter.Run(ctx)

	if cfg.RedisAddr != "" {
		conn := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer conn.Close()

		rl := relay.New(conn, cfg.RelayChannel, cfg.SendQueue*4, logger)
		hub.SetRelay(rl)
		checks["redis"] = rl.Ping
		go func() {
			if err := rl.Run(ctx, hub); err != nil {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
	}

	router := httprouter.New()
	router.GET("/health", Health(checks))
	routes.AddBookingRoutes(router, auth, booking.NewHandlers(svc))
	routes.AddChatRoutes(router, auth, rateLimiter, hub)
	routes.AddWebsockRoutes(router, hub)

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           loggingMiddleware(logger, securityHeaders(corsHandler)),
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	server.RegisterOnShutdown(hub.Stop)

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr), zap.String("storage", cfg.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return
	}
	logger.Info("server stopped cleanly")
}

func openMongo(ctx context.Context, cfg config.Config) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	database := client.Database(cfg.MongoDatabase)

	statuses := make([]string, 0, len(models.Statuses))
	for _, s := range models.Statuses {
		statuses = append(statuses, string(s))
	}
	if err := db.EnsureBookingValidator(ctx, database, statuses); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	if err := db.EnsureIndexes(ctx, database); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, database, nil
}
