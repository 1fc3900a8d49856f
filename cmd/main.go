package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"prediction-ledger/internal/auth"
	"prediction-ledger/internal/config"
	"prediction-ledger/internal/database"
	"prediction-ledger/internal/handlers"
	"prediction-ledger/internal/jobs"
	"prediction-ledger/internal/ledger"
	"prediction-ledger/internal/repository"
	"prediction-ledger/internal/retry"
	"prediction-ledger/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize ledger client
	ledgerClient, err := ledger.NewClient(cfg.Solana.Network, cfg.Solana.ServerWalletPrivateKey)
	if err != nil {
		log.Fatalf("Failed to initialize ledger client: %v", err)
	}
	log.Printf("Ledger client ready: network=%s wallet=%s", cfg.Solana.Network, ledgerClient.WalletAddress())

	// Initialize repository
	repo := repository.NewRepository(database.GetDB())

	// Initialize services
	retryCfg := retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}
	predictionService := services.NewPredictionService(repo, ledgerClient, retryCfg)
	verificationService := services.NewVerificationService(
		repo,
		ledgerClient,
		cfg.Solana.ReadsPerSecond,
		cfg.Solana.MaxParallelReads,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(repo)
	predictionHandler := handlers.NewPredictionHandler(predictionService, verificationService)

	// Start reconciliation job
	reconciler := jobs.NewReconciler(repo, verificationService, cfg.App.ReconcileInterval, cfg.App.ReconcileBatchSize)
	go reconciler.Start()

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173", // Vite dev server
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
	// Add additional frontend URL from environment if provided
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Authentication routes (public)
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/wallet", authHandler.WalletLogin)
		authRoutes.POST("/logout", authHandler.Logout)
	}

	// Authenticated /auth/me route
	authProtected := router.Group("/auth")
	authProtected.Use(auth.AuthMiddleware())
	{
		authProtected.GET("/me", authHandler.GetMe)
	}

	// Public proof verification by ledger reference
	router.POST("/api/verify", predictionHandler.VerifyProofs)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/predictions", predictionHandler.CreatePrediction)
		api.GET("/predictions", predictionHandler.GetPredictions)
		api.POST("/predictions/verify-all", predictionHandler.VerifyAll)
		api.GET("/predictions/:id", predictionHandler.GetPredictionByID)
		api.POST("/predictions/:id/commit", predictionHandler.CommitPrediction)
		api.POST("/predictions/:id/resolve", predictionHandler.ResolvePrediction)
		api.GET("/predictions/:id/verify", predictionHandler.VerifyPrediction)
		api.POST("/predictions/:id/repair", predictionHandler.RepairPrediction)

		api.GET("/stats", predictionHandler.GetStats)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)
		log.Printf("Wallet auth: POST http://localhost:%s/auth/wallet", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	reconciler.Stop()

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
