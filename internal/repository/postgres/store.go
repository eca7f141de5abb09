// Package postgres — реализация хранилища телеметрии на pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/engine"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// pgCodeUndefinedTable: таблицы нет (миграция не прогнана)
const pgCodeUndefinedTable = "42P01"

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// querier: общий знаменатель пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Open создает пул и дожидается доступности базы с ретраями.
func Open(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	logger = logger.With(zap.String("mod", "postgres"))
	if err := engine.ConnectWithRetry(ctx, logger, "postgres", 5, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	logger.Info("postgres connected", zap.Int32("max_conns", pcfg.MaxConns))

	return &Store{pool: pool, logger: logger}, nil
}

// NewFromPool: для тестов и внешнего управления пулом
func NewFromPool(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.With(zap.String("mod", "postgres"))}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate применяет встроенную схему
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

// mapErr переводит ошибки драйвера в таксономию домена
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCodeUndefinedTable {
		return fmt.Errorf("%w: %s", domain.ErrSchemaMissing, pgErr.Message)
	}
	return err
}
