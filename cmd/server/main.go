package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"shuttle-backend/internal/cache"
	"shuttle-backend/internal/config"
	"shuttle-backend/internal/database"
	"shuttle-backend/internal/eta"
	"shuttle-backend/internal/events"
	"shuttle-backend/internal/handlers"
	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/middleware"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/notify"
	"shuttle-backend/internal/reminder"
	"shuttle-backend/internal/services"
	"shuttle-backend/internal/tracking"
	"shuttle-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚐 SHUTTLE BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	log.Println("📂 Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Invalid configuration")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	loc := cfg.Location()
	log.Printf("✅ Configuration loaded (timezone %s)", loc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("🔌 Connecting to database (%s driver)...", cfg.Database.Driver)
	db, err := database.Connect(cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("   This is usually caused by:")
		log.Println("   1. Wrong DATABASE_URL format")
		log.Println("   2. PostgreSQL service is down")
		log.Println("   3. Invalid credentials")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("✅ Database connection established")

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Printf("❌ FATAL ERROR: Database migrations failed: %v", err)
		log.Fatal(err)
	}
	log.Println("✅ Database migrations completed")

	log.Println("🌱 Seeding users...")
	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: User seeding failed: %v", err)
	}
	if cfg.SeedDemoData {
		log.Println("🌱 Seeding demo departures...")
		if err := database.SeedDemoData(db, loc); err != nil {
			log.Fatalf("❌ FATAL ERROR: Demo seeding failed: %v", err)
		}
	}

	collector := metrics.NewCollector()

	// Estimates live in Redis when it is configured so every instance shares
	// them, and so does the reminder run lease.
	var etaCache cache.Store
	var locker reminder.Locker
	if cfg.Redis.Addr != "" {
		log.Printf("🧠 Connecting to Redis at %s...", cfg.Redis.Addr)
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, falling back to in-process cache: %v", err)
		} else {
			defer rdb.Close()
			etaCache = cache.NewRedisCache(rdb, "shuttle:")
			locker = cache.NewRedisLocker(rdb)
			log.Println("✅ Redis connected")
		}
	}
	if etaCache == nil {
		mem := cache.NewMemoryCache(5000, time.Minute)
		defer mem.Close()
		etaCache = mem
	}

	publisher := newPublisher(cfg.Events)
	defer publisher.Close()

	log.Println("🔌 Initializing WebSocket hub...")
	hub := websocket.NewHub()
	go hub.Run(ctx)
	log.Println("✅ WebSocket hub running")

	departures := database.NewDepartureSource(db)
	sessions := database.NewSessionRepository(db)
	locations := database.NewLocationStore(db)
	users := database.NewUserStore(db)
	tokens := database.NewTokenStore(db)
	reminders := database.NewReminderStore(db)
	attempts := database.NewAttemptStore(db)

	fanout := events.NewFanout(publisher, hub, eta.CacheInvalidator{Store: etaCache}, collector)
	trips := tracking.NewService(sessions, locations, departures,
		tracking.WithNotifier(fanout),
		tracking.WithMetrics(collector),
		tracking.WithStorageTimeout(cfg.Database.StorageTimeout),
	)

	etas := eta.NewService(departures, trips, locations, eta.NewEstimator(estimatorConfig(cfg.ETA)),
		eta.WithCache(etaCache, cfg.ETA.CacheTTL),
		eta.WithMetrics(collector),
		eta.WithStorageTimeout(cfg.Database.StorageTimeout),
	)

	fcm := newFCM(ctx, cfg.Firebase, tokens)

	var gateway notify.Gateway = notify.LogGateway{}
	if cfg.Gateway.URL != "" {
		gateway = notify.NewHTTPGateway(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.SenderID, cfg.Gateway.Timeout)
		log.Printf("📨 SMS gateway: %s", cfg.Gateway.URL)
	} else {
		log.Println("⚠️  SMS_GATEWAY_URL not set, reminders will only be logged")
	}
	dispatcher := notify.NewDispatcher(gateway, attempts, notify.Config{
		MaxRetries:     cfg.Reminder.MaxRetries,
		Backoff:        cfg.Reminder.RetryBackoff,
		GatewayTimeout: cfg.Gateway.Timeout,
		StorageTimeout: cfg.Database.StorageTimeout,
		Concurrency:    cfg.Reminder.Concurrency,
	}, collector)

	catalog := reminder.DefaultCatalog()
	if cfg.Reminder.TemplatesFile != "" {
		catalog, err = reminder.LoadCatalog(cfg.Reminder.TemplatesFile)
		if err != nil {
			log.Fatalf("❌ FATAL ERROR: Reminder templates: %v", err)
		}
		log.Printf("✅ Loaded reminder templates: %v", catalog.Names())
	}

	schedCfg := reminder.DefaultConfig()
	schedCfg.Cadence = cfg.Reminder.Cadence
	schedCfg.WindowStart = cfg.Reminder.WindowStart
	schedCfg.WindowEnd = cfg.Reminder.WindowEnd
	schedCfg.StorageTimeout = cfg.Database.StorageTimeout

	schedOpts := []reminder.Option{
		reminder.WithCatalog(catalog),
		reminder.WithMetrics(collector),
		reminder.WithLocation(loc),
	}
	if locker != nil {
		schedOpts = append(schedOpts, reminder.WithLocker(locker))
	}
	if fcm != nil {
		schedOpts = append(schedOpts, reminder.WithDriverNotifier(fcm))
	}
	scheduler := reminder.NewScheduler(schedCfg, departures, reminders, dispatcher, attempts, schedOpts...)

	var background sync.WaitGroup
	if cfg.Reminder.Enabled {
		background.Add(1)
		go func() {
			defer background.Done()
			scheduler.Start(ctx)
		}()
	} else {
		log.Println("⏸️  Reminder scheduler disabled (manual trigger only)")
	}

	auth := middleware.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(collector.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", collector.Handler())
	r.Get("/ws", websocket.HandleWebSocket(hub, auth, trips))

	r.Post("/api/auth/login", handlers.Login(users, auth))

	// Passengers only know the departure id from their booking
	r.Get("/api/departures/{id}/live", handlers.GetLiveStatus(etas))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/api/driver", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleDriver, models.RoleAdmin))
			r.Get("/departures/today", handlers.GetTodayDepartures(departures, trips, loc, cfg.Database.StorageTimeout))
			r.Post("/departures/{id}/status", handlers.UpdateTripStatus(trips))
			r.Post("/sessions/{id}/location", handlers.RecordLocation(trips))
			r.Post("/fcm-token", handlers.RegisterFCMToken(tokens))
		})

		r.Route("/api/ops", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))
			r.Get("/reminders", handlers.GetReminderStatus(scheduler))
			r.Post("/reminders/trigger", handlers.TriggerReminders(scheduler))
			r.Get("/reminders/{departureId}/attempts", handlers.GetReminderAttempts(reminders, attempts, cfg.Database.StorageTimeout))
			r.Get("/departures/{id}/transitions", handlers.GetTripTransitions(trips))
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("═══════════════════════════════════════════════════════════════════")
		log.Printf("✅ SERVER READY - Listening on port %s", cfg.Port)
		log.Println("═══════════════════════════════════════════════════════════════════")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ FATAL ERROR: Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Println("⚠️  Reminder run still in flight at shutdown deadline")
	}
	log.Println("👋 Server stopped")
}

func estimatorConfig(c config.ETAConfig) eta.Config {
	return eta.Config{
		FreshnessThreshold: c.FreshnessThreshold,
		ConfidenceCeiling:  c.ConfidenceCeiling,
		ConfidenceFloor:    c.ConfidenceFloor,
		DecayPerMinute:     c.DecayPerMinute,
		MinGPSWeight:       c.MinGPSWeight,
		MaxGPSWeight:       c.MaxGPSWeight,
		SpeedWindow:        c.SpeedWindow,
		DefaultSpeedMps:    c.DefaultSpeedMps,
		ProgressTolerance:  c.ProgressTolerance,
	}
}

// newPublisher prefers NATS, then Kafka. Without either, trip events stay
// inside the process (websockets only).
func newPublisher(c config.EventsConfig) events.Publisher {
	if c.NATSURL != "" {
		p, err := events.NewNATSPublisher(c.NATSURL, "")
		if err == nil {
			log.Printf("📡 Publishing trip events to NATS at %s", c.NATSURL)
			return p
		}
		log.Printf("⚠️  NATS unavailable: %v", err)
	}
	if len(c.KafkaBrokers) > 0 {
		log.Printf("📡 Publishing trip events to Kafka topic %s", c.KafkaTopic)
		return events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic)
	}
	return events.NopPublisher{}
}

// newFCM returns nil when no credentials are usable; drivers then simply
// get no push notices.
func newFCM(ctx context.Context, c config.FirebaseConfig, tokens services.TokenStore) *services.FCMService {
	log.Println("🔔 Initializing FCM service...")
	var (
		svc *services.FCMService
		err error
	)
	switch {
	case c.CredentialsBase64 != "":
		svc, err = services.NewFCMServiceFromBase64(ctx, c.CredentialsBase64, tokens)
	case c.CredentialsFile != "":
		if _, statErr := os.Stat(c.CredentialsFile); statErr != nil {
			log.Printf("⚠️  Firebase credentials not found at %s, push notifications disabled", c.CredentialsFile)
			return nil
		}
		svc, err = services.NewFCMService(ctx, c.CredentialsFile, tokens)
	default:
		log.Println("⚠️  No Firebase credentials configured, push notifications disabled")
		return nil
	}
	if err != nil {
		log.Printf("⚠️  FCM init failed, push notifications disabled: %v", err)
		return nil
	}
	log.Println("✅ FCM service initialized")
	return svc
}
