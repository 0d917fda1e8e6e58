package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ledgerline/regsync/internal/registry/controller"
	"github.com/ledgerline/regsync/internal/registry/db"
	"github.com/ledgerline/regsync/internal/registry/events"
	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/handlers"
	"github.com/ledgerline/regsync/internal/registry/metrics"
)

// Config struct for YAML configuration
type Config struct {
	HTTPPort       int      `yaml:"HTTP_PORT"`
	DBHost         string   `yaml:"DB_HOST"`
	DBPort         int      `yaml:"DB_PORT"`
	DBUser         string   `yaml:"DB_USER"`
	DBPassword     string   `yaml:"DB_PASSWORD"`
	DBName         string   `yaml:"DB_NAME"`
	DBSSLMode      string   `yaml:"DB_SSLMODE"`
	KafkaBrokers   []string `yaml:"KAFKA_BROKERS"`
	JWTSecret      string   `yaml:"JWT_SECRET"`
	AuditTopic     string   `yaml:"AUDIT_TOPIC"`
	OracleEndpoint string   `yaml:"ORACLE_ENDPOINT"`
}

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			logger.Error("failed to sync logger", zap.Error(err))
		}
	}(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	repo, err := db.NewRepository(initDatabase(cfg))
	if err != nil {
		log.Fatal("failed to initialize database", err)
	}
	defer repo.Close()

	producer, err := events.NewProducer(cfg.KafkaBrokers, logger, cfg.AuditTopic)
	if err != nil {
		log.Fatal("failed to initialize Kafka producer", err)
	}
	defer producer.Close()

	oracle := extract.NewHTTPOracle(cfg.OracleEndpoint, logger)
	m := metrics.New(prometheus.DefaultRegisterer)
	reviewSvc := controller.NewReviewService(repo, oracle, producer, m, logger)

	handler := handlers.NewReviewHandler(reviewSvc, logger)
	server := handlers.NewServer(cfg.HTTPPort, handler.Router(cfg.JWTSecret), logger)
	server.Start()

	waitForShutdown(server, logger)
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// loadConfig loads configuration. Use real config tooling (e.g. Viper) in production.
func loadConfig() (*Config, error) {
	configPath := filepath.Join("internal", "registry", "config", "config.yaml")
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// initDatabase initializes the database connection config.
func initDatabase(cfg *Config) *db.Config {
	return &db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}
}

// waitForShutdown blocks until an interrupt or SIGTERM is received, then shuts down the server.
func waitForShutdown(server *handlers.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	server.Stop()
	logger.Info("Server stopped properly")
}
