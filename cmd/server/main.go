package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codewizard26/rebnb-hack/docs"
	"github.com/codewizard26/rebnb-hack/internal/audit"
	"github.com/codewizard26/rebnb-hack/internal/booking"
	"github.com/codewizard26/rebnb-hack/internal/config"
	"github.com/codewizard26/rebnb-hack/internal/coordinator"
	"github.com/codewizard26/rebnb-hack/internal/database"
	"github.com/codewizard26/rebnb-hack/internal/dispute"
	"github.com/codewizard26/rebnb-hack/internal/keystore"
	"github.com/codewizard26/rebnb-hack/internal/ledger"
	"github.com/codewizard26/rebnb-hack/internal/ledger/evm"
	mW "github.com/codewizard26/rebnb-hack/internal/middleware"
	"github.com/codewizard26/rebnb-hack/internal/services"
	"github.com/codewizard26/rebnb-hack/internal/storage"
	"github.com/codewizard26/rebnb-hack/internal/store"
	"github.com/codewizard26/rebnb-hack/internal/token"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Rebnb Reservation Backend API
// @version 1.0
// @description Reservation lifecycle orchestration for the Rebnb rental escrow
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("chain.rpc", "CHAIN_RPC")
	viper.BindEnv("chain.id", "CHAIN_ID")
	viper.BindEnv("chain.contract_address", "CHAIN_CONTRACT_ADDRESS")
	viper.BindEnv("chain.token_address", "CHAIN_TOKEN_ADDRESS")
	viper.BindEnv("chain.payment_medium", "CHAIN_PAYMENT_MEDIUM")
	viper.BindEnv("chain.token_symbol", "CHAIN_TOKEN_SYMBOL")
	viper.BindEnv("chain.token_decimals", "CHAIN_TOKEN_DECIMALS")
	viper.BindEnv("chain.keystore_path", "CHAIN_KEYSTORE_PATH")
	viper.BindEnv("chain.key_passphrase", "CHAIN_KEY_PASSPHRASE")
	viper.BindEnv("chain.staleness_bound", "CHAIN_STALENESS_BOUND")
	viper.BindEnv("chain.confirm_timeout", "CHAIN_CONFIRM_TIMEOUT")
	viper.BindEnv("chain.approve_timeout", "CHAIN_APPROVE_TIMEOUT")

	viper.BindEnv("pinata.jwt", "PINATA_JWT")
	viper.BindEnv("pinata.gateway", "PINATA_GATEWAY")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Rebnb Reservation Backend API"
	docs.SwaggerInfo.Description = "Reservation lifecycle orchestration for the Rebnb rental escrow"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	chainCfg, err := config.LoadChainConfig()
	if err != nil {
		log.Fatalf("Invalid chain configuration: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	st := store.New(db)
	if err := st.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	key, operator, err := keystore.LoadOrCreate(chainCfg.KeystorePath, chainCfg.KeyPassphrase)
	if err != nil {
		log.Fatalf("Failed to load operator key: %v", err)
	}
	log.Printf("Operator address: %s", operator)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := evm.Dial(dialCtx, evm.Config{
		RPC:      chainCfg.RPC,
		ChainID:  chainCfg.ChainID,
		Contract: chainCfg.ContractAddress,
		Token:    chainCfg.TokenAddress,
		Medium:   chainCfg.PaymentMedium,
	}, key)
	dialCancel()
	if err != nil {
		log.Fatalf("Failed to connect to escrow ledger: %v", err)
	}
	defer client.Close()

	tok := token.Token{Symbol: chainCfg.TokenSymbol, Decimals: chainCfg.TokenDecimals}
	planner := booking.NewPlanner(tok, chainCfg.StalenessBound)

	var tokens ledger.TokenBackend
	if chainCfg.PaymentMedium == "erc20" {
		tokens = client
	}

	var journal *coordinator.Journal
	if redisClient != nil {
		journal = coordinator.NewJournal(redisClient, 24*time.Hour)
	}

	var bookingService *services.BookingService
	coord, err := coordinator.New(coordinator.Config{
		Writer:         client,
		Simulator:      client,
		Tokens:         tokens,
		Journal:        journal,
		Audit:          audit.NewLogger(),
		Sender:         client.Sender(),
		Contract:       chainCfg.ContractAddress,
		ConfirmTimeout: chainCfg.ConfirmTimeout,
		ApproveTimeout: chainCfg.ApproveTimeout,
		Invalidate: func(bookingID, listingID uint64) {
			if bookingService != nil {
				bookingService.InvalidateSnapshot(bookingID, listingID)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to build coordinator: %v", err)
	}

	// Drop intents journaled by a previous run before serving traffic.
	if dropped, err := coord.Recover(context.Background()); err != nil {
		log.Printf("Warning: intent recovery failed: %v", err)
	} else if len(dropped) > 0 {
		log.Printf("Recovered %d stale intent(s) from journal", len(dropped))
	}

	pinataCfg := config.LoadPinataConfig()
	contentStore := storage.NewPinataStore(pinataCfg.JWT, storage.WithGateway(pinataCfg.Gateway))
	packager := dispute.NewPackager(contentStore)

	bookingService = services.NewBookingService(client, tokens, planner, coord, st, tok, client.Sender())
	disputeService := services.NewDisputeService(planner, coord, packager, bookingService)
	checkinService := services.NewCheckinService(client, redisClient)
	payoutService := services.NewPayoutService(client, tok)
	authService := services.NewAuthService(db, redisClient)
	transcribeService := services.NewTranscribeService()
	defer transcribeService.Close()

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(5 * time.Minute))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for listing photos
	r.Handle("/static/listing-photos/*", http.StripPrefix("/static/listing-photos/",
		mW.StaticFileServer("./static/listing-photos")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/listings/{listingId}", bookingService.GetListing)
		r.Get("/listings/{listingId}/reservation", bookingService.GetListingReservation)
		r.Post("/checkin/redeem", checkinService.RedeemCode)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Reservation booking endpoints
			r.Post("/listings/{listingId}/prebook", bookingService.Prebook)
			r.Post("/listings/{listingId}/book", bookingService.DirectBook)
			r.Get("/bookings/{bookingId}", bookingService.GetReservation)
			r.Post("/bookings/{bookingId}/finalize", bookingService.Finalize)
			r.Post("/bookings/{bookingId}/rerent", bookingService.Rerent)
			r.Post("/bookings/{bookingId}/cancel", bookingService.Cancel)
			r.Post("/bookings/{bookingId}/unlock", bookingService.Unlock)
			r.Get("/bookings/{bookingId}/history", bookingService.GetHistory)
			r.Get("/bookings/{bookingId}/intent", bookingService.GetIntent)
			r.Get("/intents/pending", bookingService.GetPending)
			r.Post("/intents/plan", bookingService.PlanDryRun)

			// Dispute endpoints
			r.Post("/bookings/{bookingId}/dispute", disputeService.RaiseDispute)
			r.Post("/bookings/{bookingId}/evidence", disputeService.SubmitEvidence)
			r.Get("/disputes/evidence", disputeService.GetEvidence)
			r.Post("/disputes/transcribe", transcribeService.TranscribeVoiceNote)

			// Check-in and payout endpoints
			r.Post("/bookings/{bookingId}/checkin", checkinService.GenerateCode)
			r.Get("/bookings/{bookingId}/payout", payoutService.ExportPayout)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
