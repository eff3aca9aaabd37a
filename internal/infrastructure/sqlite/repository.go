package sqlite

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

	_ "modernc.org/sqlite"
)

// Repository is the single-file store used when no MySQL or ClickHouse is
// configured. It serves settlement records, token volumes and the ingest
// cursor.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS settlements (
			tx_hash TEXT PRIMARY KEY,
			settlement_id TEXT NOT NULL DEFAULT '',
			first_trade_timestamp INTEGER NOT NULL DEFAULT 0,
			solver TEXT NOT NULL DEFAULT '',
			block_number INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			cowiness REAL NOT NULL DEFAULT 0,
			total_volume_in_usd TEXT NOT NULL DEFAULT '0',
			total_volume_out_usd TEXT NOT NULL DEFAULT '0',
			error_class TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			computed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS settlements_ts_idx ON settlements (first_trade_timestamp)`,
		`CREATE TABLE IF NOT EXISTS token_volumes (
			tx_hash TEXT NOT NULL,
			first_trade_timestamp INTEGER NOT NULL,
			direction TEXT NOT NULL,
			token TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			decimals INTEGER NOT NULL DEFAULT 0,
			amount TEXT NOT NULL,
			price_usd TEXT NOT NULL,
			usd_value TEXT NOT NULL,
			PRIMARY KEY (tx_hash, direction, token)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO settlements (tx_hash, settlement_id, first_trade_timestamp, solver, block_number, status, cowiness, total_volume_in_usd, total_volume_out_usd, error_class, error, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO UPDATE SET
			settlement_id = excluded.settlement_id,
			first_trade_timestamp = excluded.first_trade_timestamp,
			solver = excluded.solver,
			block_number = excluded.block_number,
			status = excluded.status,
			cowiness = excluded.cowiness,
			total_volume_in_usd = excluded.total_volume_in_usd,
			total_volume_out_usd = excluded.total_volume_out_usd,
			error_class = excluded.error_class,
			error = excluded.error,
			computed_at = excluded.computed_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			strings.ToLower(record.TxHash),
			strings.ToLower(record.SettlementID),
			record.FirstTradeTimestamp,
			strings.ToLower(record.Solver),
			int64(record.BlockNumber),
			string(record.Status),
			record.Cowiness,
			record.TotalVolumeInUSD.String(),
			record.TotalVolumeOutUSD.String(),
			record.ErrorClass,
			record.Error,
			record.ComputedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error {
	if len(volumes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO token_volumes (tx_hash, first_trade_timestamp, direction, token, name, decimals, amount, price_usd, usd_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash, direction, token) DO UPDATE SET
			first_trade_timestamp = excluded.first_trade_timestamp,
			name = excluded.name,
			decimals = excluded.decimals,
			amount = excluded.amount,
			price_usd = excluded.price_usd,
			usd_value = excluded.usd_value`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, volume := range volumes {
		if _, err := stmt.ExecContext(ctx,
			strings.ToLower(volume.TxHash),
			volume.FirstTradeTimestamp,
			string(volume.Direction),
			strings.ToLower(volume.Token),
			volume.Name,
			volume.Decimals,
			volume.Amount.String(),
			volume.PriceUSD.String(),
			volume.USDValue.String(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
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
		return nil, err
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		var record domain.SettlementRecord
		var blockNumber int64
		var status, computedAt string
		if err := rows.Scan(
			&record.TxHash,
			&record.SettlementID,
			&record.FirstTradeTimestamp,
			&record.Solver,
			&blockNumber,
			&status,
			&record.Cowiness,
			&record.TotalVolumeInUSD,
			&record.TotalVolumeOutUSD,
			&record.ErrorClass,
			&record.Error,
			&computedAt,
		); err != nil {
			return nil, err
		}
		record.BlockNumber = uint64(blockNumber)
		record.Status = domain.SettlementStatus(status)
		if record.ComputedAt, err = time.Parse(time.RFC3339Nano, computedAt); err != nil {
			return nil, fmt.Errorf("computed_at %q: %w", computedAt, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.TxHash != "" {
		clauses = append(clauses, "tx_hash = ?")
		args = append(args, strings.ToLower(filter.TxHash))
	}
	if filter.Token != "" {
		clauses = append(clauses, "token = ?")
		args = append(args, strings.ToLower(filter.Token))
	}
	if filter.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, string(filter.Direction))
	}

	query := `SELECT tx_hash, first_trade_timestamp, direction, token, name, decimals, amount, price_usd, usd_value FROM token_volumes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY first_trade_timestamp ASC, tx_hash ASC, direction ASC, token ASC LIMIT ?"
	args = append(args, application.ClampLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []domain.TokenVolume
	for rows.Next() {
		var volume domain.TokenVolume
		var direction string
		if err := rows.Scan(
			&volume.TxHash,
			&volume.FirstTradeTimestamp,
			&direction,
			&volume.Token,
			&volume.Name,
			&volume.Decimals,
			&volume.Amount,
			&volume.PriceUSD,
			&volume.USDValue,
		); err != nil {
			return nil, err
		}
		volume.Direction = domain.VolumeDirection(direction)
		volumes = append(volumes, volume)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return volumes, nil
}

func (r *Repository) LastSettlementTimestamp(ctx context.Context) (int64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = 'last_settlement_timestamp'`).Scan(&value); err != nil {
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
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (key, value) VALUES ('last_settlement_timestamp', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.FormatInt(timestamp, 10))
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
