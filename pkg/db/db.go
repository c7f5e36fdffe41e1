package db

import (
	"context"
	"log"
	"os"
	"sync"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	constant "liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

type DB struct {
	Conn *gorm.DB
}

var (
	instance *DB
	once     sync.Once
)

func GetInstance(dialector gorm.Dialector) *DB {
	var logger = constant.GetLogger()
	once.Do(func() {
		conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger()})
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}

		logger.Info("Connected to database with dialector:", zap.String("dialector", dialector.Name()))

		instance = &DB{Conn: conn}

		if dialector.Name() == "sqlite" {
			configureSqlite(instance.Conn)
		}

		if err := instance.Migrate(); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}

		logger.Info("Database migration completed")
	})
	return instance
}

// sqlite allows a single writer; one pooled connection serializes the
// per-batch transactions of concurrently running tenants instead of failing
// them with "database is locked".
func configureSqlite(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatal("Failed to access sqlite connection pool", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		log.Fatal("Failed to enable sqlite foreign key support", err)
	}

	if err := conn.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
		log.Fatal("Failed to set sqlite journal mode", err)
	}
}

func (d *DB) Migrate() error {
	return d.Conn.AutoMigrate(models.All()...)
}

func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.Conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func gormLogger() logger.Interface {
	if constant.IsDevelopment() {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Silent)
}

func UseSqliteDialector() gorm.Dialector {
	var dbPath string
	var found bool
	if dbPath, found = os.LookupEnv(constant.EnvKeyMirrorDbPath); !found {
		dbPath = "mirror.db"
	}
	return sqlite.Open(dbPath)
}

func UseMemorySqliteDialector() gorm.Dialector {
	return sqlite.Open("file::memory:?cache=shared")
}

// UsePostgresDialector goes through lib/pq rather than the pgx default.
func UsePostgresDialector(dsn string) gorm.Dialector {
	return postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	})
}

func DialectorFromConfig(cfg config.DBConfig) gorm.Dialector {
	switch cfg.Type {
	case "memory":
		return UseMemorySqliteDialector()
	case "postgres":
		return UsePostgresDialector(cfg.DSN)
	default:
		return sqlite.Open(cfg.Path)
	}
}
