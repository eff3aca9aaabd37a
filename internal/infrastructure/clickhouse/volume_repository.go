package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// VolumeRepository keeps per-token priced volumes for analytics.
// ReplacingMergeTree collapses rows rewritten by a replayed batch.
type VolumeRepository struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewRepository(dsn string) (*VolumeRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &VolumeRepository{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS token_volumes (
		tx_hash String,
		first_trade_timestamp Int64,
		direction LowCardinality(String),
		token String,
		name String,
		decimals Int32,
		amount Decimal(38, 18),
		price_usd Decimal(38, 18),
		usd_value Decimal(38, 18),
		inserted_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(inserted_at)
	PARTITION BY toYYYYMM(toDateTime(first_trade_timestamp))
	ORDER BY (tx_hash, direction, token)`)
	return err
}

func (r *VolumeRepository) StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error {
	if len(volumes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO token_volumes (tx_hash, first_trade_timestamp, direction, token, name, decimals, amount, price_usd, usd_value)`)
	if err != nil {
		return err
	}

	for _, volume := range volumes {
		if err := batch.Append(
			strings.ToLower(volume.TxHash),
			volume.FirstTradeTimestamp,
			string(volume.Direction),
			strings.ToLower(volume.Token),
			volume.Name,
			volume.Decimals,
			volume.Amount,
			volume.PriceUSD,
			volume.USDValue,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (r *VolumeRepository) QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := buildVolumeQuery(filter)
	rows, err := r.conn.Query(ctx, query, args...)
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

func buildVolumeQuery(filter application.TokenVolumeQueryFilter) (string, []any) {
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

	query := `SELECT tx_hash, first_trade_timestamp, direction, token, name, decimals, amount, price_usd, usd_value FROM token_volumes FINAL`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY first_trade_timestamp ASC, tx_hash ASC, direction ASC, token ASC LIMIT ?"
	args = append(args, application.ClampLimit(filter.Limit))
	return query, args
}

func (r *VolumeRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *VolumeRepository) Close() error {
	_ = r.conn.Close()
	return r.db.Close()
}
