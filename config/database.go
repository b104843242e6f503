package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	gosql "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

// GetDB returns the local terminal database. The durable queue and the
// sync audit trail live here; the remote system of record does not.
func GetDB() *gorm.DB {
	return db
}

func init() {
	// Load env from .env
	godotenv.Load()
	// Do NOT block startup in init() waiting for DB; the shell decides
	// when to connect.
}

// ConnectLocalDatabaseWithRetry connects to the terminal-local MySQL/MariaDB
// instance and sets the global DB. POS terminals keep a local database so
// queued records survive restarts and reboots.
func ConnectLocalDatabaseWithRetry() {
	dbUser := os.Getenv("LOCAL_DB_USER")
	dbPassword := os.Getenv("LOCAL_DB_PASSWORD")
	dbHost := os.Getenv("LOCAL_DB_HOST")
	dbPort := os.Getenv("LOCAL_DB_PORT")
	dbName := os.Getenv("LOCAL_DB_NAME")
	if dbHost == "" {
		dbHost = "127.0.0.1"
	}
	if dbPort == "" {
		dbPort = "3306"
	}

	dsnConfig := gosql.NewConfig()
	dsnConfig.User = dbUser
	dsnConfig.Passwd = dbPassword
	dsnConfig.Net = "tcp"
	dsnConfig.Addr = fmt.Sprintf("%s:%s", dbHost, dbPort)
	if strings.HasPrefix(dbHost, "/") {
		// Local MariaDB via unix socket (e.g. /var/run/mysqld/mysqld.sock).
		dsnConfig.Net = "unix"
		dsnConfig.Addr = dbHost
	}
	dsnConfig.DBName = dbName
	dsnConfig.MultiStatements = true
	dsnConfig.ParseTime = true
	databaseConfig := dsnConfig.FormatDSN()

	var attempt int
	for {
		attempt++
		var err error
		db, err = gorm.Open(mysql.Open(databaseConfig), initConfig())
		if err == nil {
			// Pool knobs are modest: this is a single terminal, not a server.
			// Env overrides (optional):
			// - LOCAL_DB_MAX_OPEN_CONNS (default 10)
			// - LOCAL_DB_MAX_IDLE_CONNS (default 5)
			// - LOCAL_DB_CONN_MAX_LIFETIME_SECONDS (default 300)
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				maxOpen := intFromEnv("LOCAL_DB_MAX_OPEN_CONNS", 10)
				maxIdle := intFromEnv("LOCAL_DB_MAX_IDLE_CONNS", 5)
				connMaxLife := time.Duration(intFromEnv("LOCAL_DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second

				if maxOpen > 0 {
					sqlDB.SetMaxOpenConns(maxOpen)
				}
				if maxIdle >= 0 {
					sqlDB.SetMaxIdleConns(maxIdle)
				}
				if connMaxLife > 0 {
					sqlDB.SetConnMaxLifetime(connMaxLife)
				}
			}

			if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			log.Printf("connected to local database (attempt=%d)", attempt)
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect local database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
