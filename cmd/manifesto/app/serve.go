package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/config"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
	"github.com/Abraxas-365/manifesto/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/manifesto/pkg/notifx/notifxses"
	"github.com/Abraxas-365/manifesto/pkg/oauthapi"
	"github.com/Abraxas-365/manifesto/pkg/oauthcontainer"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authorization server HTTP listener",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	logx.Info("🚀 starting manifesto authorization server...")

	cfg := config.Load()

	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logx.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	logx.Info("  ✅ database connected")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logx.WithError(err).Warn("  ⚠️  redis unavailable, continuing without cached blacklist lookups")
		rdb = nil
	} else {
		logx.Info("  ✅ redis connected")
	}

	container := oauthcontainer.New(oauthcontainer.Deps{
		DB:          db,
		Redis:       rdb,
		Cfg:         &cfg,
		EmailSender: buildEmailSender(ctx, cfg),
	})

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go container.CleanupService.Start(cleanupCtx)

	if container.EmailQueue != nil {
		emailCtx, stopEmailQueue := context.WithCancel(ctx)
		defer stopEmailQueue()
		go container.EmailQueue.Start(emailCtx)
	}

	app := fiber.New(fiber.Config{
		AppName:               "manifesto authorization server",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "db": "unhealthy"})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	oauthapi.NewHandlers(container, cfg.Session.CookieName).RegisterRoutes(app)
	logx.Info("  ✅ oauth routes registered")

	return startServer(app, cfg.Server.Port, cfg.Server.ShutdownTimeout)
}

func buildEmailSender(ctx context.Context, cfg config.Config) notifx.EmailSender {
	var provider notifx.EmailSender
	switch cfg.Notifx.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Notifx.AWSRegion))
		if err != nil {
			logx.WithError(err).Fatal("failed to load AWS SDK config for SES")
		}
		provider = notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), cfg.Notifx.FromAddress)
	default:
		logx.Warn("  ⚠️  NOTIFX_PROVIDER unset or \"console\", emails will only be logged")
		provider = notifxconsole.NewConsoleProvider()
	}
	return notifx.NewClient(provider)
}

func startServer(app *fiber.App, port int, shutdownTimeout time.Duration) error {
	go func() {
		logx.Infof("🚀 listening on port %d", port)
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	logx.Info("🛑 shutting down gracefully...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logx.Errorf("server forced to shutdown: %v", err)
	}
	logx.Info("✅ server exited successfully")
	return nil
}

func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("request error: %v", err)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{"error": e.Message, "status": e.Code})
	}
	if e, ok := err.(*errx.Error); ok {
		return c.Status(e.HTTPStatus).JSON(fiber.Map{
			"error": e.Message, "code": e.Code, "type": string(e.Type), "status": e.HTTPStatus,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
