package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"permission_service/internal/config"
	"permission_service/internal/database/mongo"
	"permission_service/internal/events"
	"permission_service/internal/handlers"
	"permission_service/internal/repository"
	"permission_service/internal/service"
	"permission_service/pkg/discovery"

	"github.com/gofiber/fiber/v3"
)

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/evolvia", "log", "permission_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.ServiceConfig

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("Permission Service is healthy")
	})

	// Initialize repositories
	grantRepo := repository.NewGrantRepository(mongo.Mongo_Database)
	auditRepo := repository.NewAuditRepository(mongo.Mongo_Database)
	redisRepo := repository.NewRedisRepo()

	// Create database indexes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := grantRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create grant indexes: %v", err)
	}
	if err := auditRepo.CreateIndexes(ctx); err != nil {
		log.Printf("Warning: Failed to create audit indexes: %v", err)
	}
	cancel()

	// Initialize event publisher
	eventPublisher, err := events.NewEventPublisher(cfg.RabbitMQ.URI)
	if err != nil {
		log.Printf("Warning: Failed to initialize event publisher: %v", err)
		eventPublisher, _ = events.NewEventPublisher("")
	}

	// Initialize event consumer for membership cache invalidation
	eventConsumer, err := events.NewEventConsumer(cfg.RabbitMQ.URI, redisRepo)
	if err != nil {
		log.Printf("Warning: Failed to initialize event consumer: %v", err)
		eventConsumer = nil
	} else {
		if err := eventConsumer.Start(); err != nil {
			log.Printf("Warning: Failed to start event consumer: %v", err)
			eventConsumer.Close()
			eventConsumer = nil
		} else {
			log.Println("Successfully started directory event consumer")
		}
	}

	// Initialize services
	auditService := service.NewAuditService(auditRepo, cfg.Retention.AuditQueueSize)
	membershipClient := service.NewDirectoryClient(discovery.ServiceDiscovery, redisRepo,
		cfg.Directory.ServiceName, cfg.Directory.RequestTimeout, cfg.Directory.MembershipTTL)
	resolver := service.NewPermissionResolver(grantRepo, membershipClient, auditService)
	grantService := service.NewGrantService(grantRepo, resolver, auditService, eventPublisher)
	securityService := service.NewSecurityService(auditRepo, eventPublisher)
	maintenanceService := service.NewMaintenanceService(grantRepo, auditRepo,
		cfg.Retention.SweepInterval, cfg.Retention.RetentionDays)

	// Background expiration sweep and audit retention
	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	go maintenanceService.Run(maintenanceCtx)

	// Initialize and register handlers
	permissionHandler := handlers.NewPermissionHandler(resolver, grantService)
	permissionHandler.RegisterRoutes(app)
	auditHandler := handlers.NewAuditHandler(auditService, securityService, maintenanceService)
	auditHandler.RegisterRoutes(app)

	// Register with service discovery
	if err := discovery.ServiceDiscovery.Register(); err != nil {
		log.Printf("Warning: Failed to register with Consul: %v", err)
	}

	shutdownChan := make(chan os.Signal, 1)
	doneChan := make(chan bool, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		doneChan <- true
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	stopMaintenance()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	// Drain buffered audit entries before disconnecting storage
	auditService.Close()

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Printf("Error closing event publisher: %v", err)
		}
	}

	if eventConsumer != nil {
		if err := eventConsumer.Close(); err != nil {
			log.Printf("Error closing event consumer: %v", err)
		}
	}

	// Disconnect from MongoDB
	mongo.DisconnectMongo()

	// Deregister from service discovery
	if discovery.ServiceDiscovery != nil {
		if err := discovery.ServiceDiscovery.Deregister(); err != nil {
			log.Printf("Error deregistering from service discovery: %v", err)
		}
	}

	<-doneChan
	log.Println("Server shutdown complete")
}
