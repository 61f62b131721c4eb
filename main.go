package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/calebmorris/reddit-insights/analyzer"
	"github.com/calebmorris/reddit-insights/api"
	"github.com/calebmorris/reddit-insights/db"
	"github.com/calebmorris/reddit-insights/pipeline"
	"github.com/calebmorris/reddit-insights/prompts"
	"github.com/calebmorris/reddit-insights/stats"
	"github.com/calebmorris/reddit-insights/utils"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	serve := flag.Bool("serve", false, "Serve the dashboard API instead of running the pipeline")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting Reddit Insights")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		if missing, ok := err.(*utils.MissingEnvError); ok {
			for _, key := range missing.Keys {
				log.WithField("variable", key).Error("Required environment variable is not set")
			}
		}
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	log.WithFields(logrus.Fields{
		"subreddits": config.Reddit.Subreddits,
		"post_limit": config.Reddit.PostLimit,
	}).Info("Configuration loaded")

	database, err := db.NewDatabase(config.Database.Path, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	if *serve {
		runServer(config, database, log)
		return
	}

	os.Exit(runPipeline(config, database, log))
}

// runPipeline wires the pipeline dependencies, runs once, and maps the
// report onto a process exit code.
func runPipeline(config *utils.Config, database *db.Database, log *logrus.Logger) int {
	redditClient := api.NewRedditClient(
		config.Reddit.ClientID,
		config.Reddit.ClientSecret,
		config.Reddit.UserAgent,
		log,
	)

	registry := prompts.NewRegistryClient(
		config.Registry.Host,
		config.Registry.PublicKey,
		config.Registry.SecretKey,
		log,
	)

	resolver, err := prompts.NewResolver(registry, log)
	if err != nil {
		log.WithError(err).Error("Failed to build prompt resolver")
		return 1
	}

	ctx := context.Background()
	template := resolver.Resolve(ctx)

	completions := analyzer.NewOpenAIClient(config.OpenAI.APIKey, config.OpenAI.Model, log)
	engine := analyzer.NewEngine(completions, template, log)

	runner := pipeline.NewRunner(
		redditClient,
		engine,
		database,
		config.Reddit.Subreddits,
		config.Reddit.PostLimit,
		log,
	)

	report := runner.Run(ctx)
	if report.Failed() {
		return 1
	}
	return 0
}

// runServer exposes the persisted analyses for the dashboard.
func runServer(config *utils.Config, database *db.Database, log *logrus.Logger) {
	collector := stats.NewCollector(database, config.Reddit.Subreddits, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := collector.Start(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("Stats collector stopped unexpectedly")
		}
	}()

	go startEchoServer(ctx, config.Server.Port, collector, log)

	waitForShutdown(cancel, log)
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// startEchoServer starts the Echo HTTP API server
func startEchoServer(ctx context.Context, port int, collector *stats.Collector, log *logrus.Logger) {
	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(10),
				Burst:     20,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	}
	e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))

	e.GET("/api/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, collector.GetStatistics())
	})

	e.GET("/api/stats/:subreddit", func(c echo.Context) error {
		subreddit := c.Param("subreddit")
		statistics := collector.GetStatistics()

		subredditStats, exists := statistics.SubredditStats[subreddit]
		if !exists {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("No statistics available for subreddit %s", subreddit),
			})
		}

		return c.JSON(http.StatusOK, subredditStats)
	})

	e.GET("/api/posts/top", func(c echo.Context) error {
		return c.JSON(http.StatusOK, collector.GetTopByTrending())
	})

	// health check endpoint; useful for k8s liveliness probes
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Reddit Insights stopped")
}
