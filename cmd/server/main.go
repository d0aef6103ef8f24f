package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/mikeboe/deep-research/pkg/assistant"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := cfg.Apply(session.NewConfiguration()); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	m := metrics.New()
	opts := []assistant.Option{
		assistant.WithMetrics(m),
		assistant.WithFirecrawlBaseURL(cfg.FirecrawlBaseURL),
	}

	// Database is optional
	var db *database.PostgresDB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.NewPostgresDB(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		opts = append(opts,
			assistant.WithArchive(db),
			assistant.WithRunLogHandler(func(runID uuid.UUID) slog.Handler {
				return server.NewRunLogHandler(db, runID)
			}),
		)
	}

	registry := session.NewRegistry(func(c *session.Configuration) {
		if err := cfg.Apply(c); err != nil {
			slog.Error("Failed to apply default configuration", "error", err)
		}
	})

	svc := server.NewService(registry, assistant.New(opts...), db)
	handler := server.NewHandler(svc, m)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Allow all for dev
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	handler.RegisterRoutes(r)

	fmt.Printf("Server starting on port %s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
