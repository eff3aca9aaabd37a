package storage

import (
	"errors"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/infrastructure/clickhouse"
	"cowindex/internal/infrastructure/mysql"
	"cowindex/internal/infrastructure/sqlite"

	"github.com/redis/go-redis/v9"
)

type OpenConfig struct {
	// SQLitePath selects the single-file store and wins over the DSNs.
	SQLitePath    string
	DBDSN         string
	ClickhouseDSN string
	Redis         *redis.Client
	CacheTTL      time.Duration
}

// Handle is an opened backend: the routed repository, the ingest cursor
// and whatever must be closed on shutdown.
type Handle struct {
	*Repository
	Cursor  application.CursorRepository
	Backend string
	closers []func() error
}

func Open(cfg OpenConfig) (*Handle, error) {
	if path := strings.TrimSpace(cfg.SQLitePath); path != "" {
		return openSQLite(path)
	}
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return nil, errors.New("DB_DSN or SQLITE_PATH is required")
	}
	if strings.TrimSpace(cfg.ClickhouseDSN) == "" {
		return nil, errors.New("CLICKHOUSE_DSN is required with DB_DSN")
	}

	mysqlRepo, err := mysql.NewRepository(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	volumeRepo, err := clickhouse.NewRepository(cfg.ClickhouseDSN)
	if err != nil {
		_ = mysqlRepo.Close()
		return nil, err
	}
	settlements, err := mysql.NewCachedRepository(mysqlRepo, cfg.Redis, cfg.CacheTTL)
	if err != nil {
		_ = mysqlRepo.Close()
		_ = volumeRepo.Close()
		return nil, err
	}
	repo, err := NewRepository(settlements, volumeRepo)
	if err != nil {
		_ = mysqlRepo.Close()
		_ = volumeRepo.Close()
		return nil, err
	}
	return &Handle{
		Repository: repo,
		Cursor:     mysqlRepo,
		Backend:    "mysql+clickhouse",
		closers:    []func() error{mysqlRepo.Close, volumeRepo.Close},
	}, nil
}

func openSQLite(path string) (*Handle, error) {
	sqliteRepo, err := sqlite.NewRepository(path)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(sqliteRepo, sqliteRepo)
	if err != nil {
		_ = sqliteRepo.Close()
		return nil, err
	}
	return &Handle{
		Repository: repo,
		Cursor:     sqliteRepo,
		Backend:    "sqlite",
		closers:    []func() error{sqliteRepo.Close},
	}, nil
}

func (h *Handle) Close() error {
	var errs []error
	for _, closeFn := range h.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
