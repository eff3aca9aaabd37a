package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cursorStateKey = "last_settlement_timestamp"

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS settlements (
			tx_hash VARCHAR(66) NOT NULL,
			settlement_id VARCHAR(66) NOT NULL DEFAULT '',
			first_trade_timestamp BIGINT NOT NULL DEFAULT 0,
			solver VARCHAR(42) NOT NULL DEFAULT '',
			block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			cowiness DOUBLE NOT NULL DEFAULT 0,
			total_volume_in_usd DECIMAL(38,12) NOT NULL DEFAULT 0,
			total_volume_out_usd DECIMAL(38,12) NOT NULL DEFAULT 0,
			error_class VARCHAR(32) NOT NULL DEFAULT '',
			error TEXT NOT NULL,
			computed_at DATETIME(3) NOT NULL,
			PRIMARY KEY (tx_hash),
			KEY settlements_ts_idx (first_trade_timestamp),
			KEY settlements_solver_idx (solver, first_trade_timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(64) NOT NULL,
			PRIMARY KEY (state_key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumn(db, "settlements", "error_class", "VARCHAR(32) NOT NULL DEFAULT ''")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	_, err := db.Exec(stmt)
	return err
}

// StoreSettlementRecords upserts by tx hash, so a replayed batch overwrites
// the earlier outcome.
func (r *Repository) StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.StoreSettlementRecords", attribute.Int("settlement.count", len(records)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanError(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO settlements (tx_hash, settlement_id, first_trade_timestamp, solver, block_number, status, cowiness, total_volume_in_usd, total_volume_out_usd, error_class, error, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			settlement_id = VALUES(settlement_id),
			first_trade_timestamp = VALUES(first_trade_timestamp),
			solver = VALUES(solver),
			block_number = VALUES(block_number),
			status = VALUES(status),
			cowiness = VALUES(cowiness),
			total_volume_in_usd = VALUES(total_volume_in_usd),
			total_volume_out_usd = VALUES(total_volume_out_usd),
			error_class = VALUES(error_class),
			error = VALUES(error),
			computed_at = VALUES(computed_at)`)
	if err != nil {
		_ = tx.Rollback()
		return spanError(span, err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			strings.ToLower(record.TxHash),
			strings.ToLower(record.SettlementID),
			record.FirstTradeTimestamp,
			strings.ToLower(record.Solver),
			record.BlockNumber,
			string(record.Status),
			record.Cowiness,
			record.TotalVolumeInUSD,
			record.TotalVolumeOutUSD,
			record.ErrorClass,
			record.Error,
			record.ComputedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return spanError(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return spanError(span, err)
	}
	return nil
}

func (r *Repository) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
	ctx, span := startDBSpan(ctx, "mysql.QuerySettlements")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if filter.TxHash != "" {
		clauses = append(clauses, "tx_hash = ?")
		args = append(args, strings.ToLower(filter.TxHash))
	}
	if filter.Solver != "" {
		clauses = append(clauses, "solver = ?")
		args = append(args, strings.ToLower(filter.Solver))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.FromTimestamp != nil {
		clauses = append(clauses, "first_trade_timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}
	if filter.ToTimestamp != nil {
		clauses = append(clauses, "first_trade_timestamp <= ?")
		args = append(args, *filter.ToTimestamp)
	}

	query := `SELECT tx_hash, settlement_id, first_trade_timestamp, solver, block_number, status, cowiness, total_volume_in_usd, total_volume_out_usd, error_class, error, computed_at FROM settlements`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY first_trade_timestamp ASC, tx_hash ASC LIMIT ?"
	args = append(args, application.ClampLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, spanError(span, err)
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		var record domain.SettlementRecord
		var status string
		if err := rows.Scan(
			&record.TxHash,
			&record.SettlementID,
			&record.FirstTradeTimestamp,
			&record.Solver,
			&record.BlockNumber,
			&status,
			&record.Cowiness,
			&record.TotalVolumeInUSD,
			&record.TotalVolumeOutUSD,
			&record.ErrorClass,
			&record.Error,
			&record.ComputedAt,
		); err != nil {
			return nil, spanError(span, err)
		}
		record.Status = domain.SettlementStatus(status)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Int("settlement.count", len(records)))
	return records, nil
}

func (r *Repository) LastSettlementTimestamp(ctx context.Context) (int64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, cursorStateKey).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	timestamp, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cursor %q: %w", value, err)
	}
	return timestamp, true, nil
}

func (r *Repository) SetLastSettlementTimestamp(ctx context.Context, timestamp int64) error {
	ctx, span := startDBSpan(ctx, "mysql.SetLastSettlementTimestamp",
		attribute.Int64("cursor.timestamp", timestamp),
	)
	defer span.End()
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, cursorStateKey, strconv.FormatInt(timestamp, 10))
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("cowindex/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
