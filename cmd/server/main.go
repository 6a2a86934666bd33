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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/kirgkr-rg/finance-app/internal/database"
	mW "github.com/kirgkr-rg/finance-app/internal/middleware"
	"github.com/kirgkr-rg/finance-app/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db)
	userService := services.NewUserService(db)
	groupService := services.NewGroupService(db)
	companyService := services.NewCompanyService(db)
	accountService := services.NewAccountService(db)
	permissionService := services.NewPermissionService(db)
	transactionService := services.NewTransactionService(db)
	operationService := services.NewOperationService(db, redisClient)
	pendingEntryService := services.NewPendingEntryService(db)
	attachmentService := services.NewAttachmentService(db)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(db))

			r.Get("/auth/me", authService.Me)

			r.Post("/users", userService.Create)
			r.Get("/users", userService.List)
			r.Get("/users/{userID}", userService.Get)
			r.Patch("/users/{userID}", userService.Update)
			r.Delete("/users/{userID}", userService.Deactivate)
			r.Get("/users/{userID}/permissions", permissionService.ListForUser)

			r.Post("/groups", groupService.Create)
			r.Get("/groups", groupService.List)
			r.Get("/groups/{groupID}", groupService.Get)
			r.Patch("/groups/{groupID}", groupService.Update)
			r.Delete("/groups/{groupID}", groupService.Deactivate)
			r.Get("/groups/balance", operationService.GroupsBalance)

			r.Post("/companies", companyService.Create)
			r.Get("/companies", companyService.List)
			r.Get("/companies/{companyID}", companyService.Get)
			r.Patch("/companies/{companyID}", companyService.Update)
			r.Delete("/companies/{companyID}", companyService.Deactivate)

			r.Post("/accounts", accountService.Create)
			r.Get("/accounts", accountService.List)
			r.Get("/accounts/{accountID}", accountService.Get)
			r.Patch("/accounts/{accountID}", accountService.Update)
			r.Delete("/accounts/{accountID}", accountService.Deactivate)
			r.Post("/accounts/{accountID}/adjust-balance", transactionService.AdjustBalance)

			r.Post("/permissions", permissionService.Grant)
			r.Get("/permissions", permissionService.List)
			r.Patch("/permissions/{permissionID}", permissionService.Update)
			r.Delete("/permissions/{permissionID}", permissionService.Revoke)

			r.Post("/transactions/transfer", transactionService.Transfer)
			r.Post("/transactions/deposit", transactionService.Deposit)
			r.Post("/transactions/withdrawal", transactionService.Withdraw)
			r.Post("/transactions/confirming-settlement", transactionService.ConfirmingSettlement)
			r.Get("/transactions", transactionService.List)
			r.Get("/transactions/{transactionID}", transactionService.Get)
			r.Patch("/transactions/{transactionID}/operation", transactionService.AssignOperation)
			r.Patch("/transactions/{transactionID}/date", transactionService.UpdateDate)

			r.Post("/transactions/{transactionID}/attachments", attachmentService.Upload)
			r.Get("/transactions/{transactionID}/attachments", attachmentService.List)
			r.Get("/attachments/{attachmentID}", attachmentService.Download)
			r.Delete("/attachments/{attachmentID}", attachmentService.Delete)

			r.Post("/operations", operationService.Create)
			r.Get("/operations", operationService.List)
			r.Get("/operations/{operationID}", operationService.Get)
			r.Patch("/operations/{operationID}", operationService.Update)
			r.Patch("/operations/{operationID}/status", operationService.UpdateStatus)
			r.Delete("/operations/{operationID}", operationService.Delete)
			r.Get("/operations/{operationID}/flow", operationService.Flow)

			r.Post("/pending-entries", pendingEntryService.Create)
			r.Get("/pending-entries", pendingEntryService.List)
			r.Post("/pending-entries/{entryID}/settle", pendingEntryService.Settle)
			r.Post("/pending-entries/{entryID}/unsettle", pendingEntryService.Unsettle)
			r.Delete("/pending-entries/{entryID}", pendingEntryService.Delete)
			r.Get("/pending-entries/summary", pendingEntryService.Summary)

			r.Get("/dashboard", operationService.Dashboard)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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
