package storage

import (
	"context"
	"errors"
	"testing"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettlements struct {
	stored  int
	pingErr error
}

func (f *fakeSettlements) StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error {
	f.stored += len(records)
	return nil
}

func (f *fakeSettlements) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
	return []domain.SettlementRecord{{TxHash: filter.TxHash}}, nil
}

func (f *fakeSettlements) Ping(ctx context.Context) error { return f.pingErr }

type fakeVolumes struct {
	stored  int
	pingErr error
}

func (f *fakeVolumes) StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error {
	f.stored += len(volumes)
	return nil
}

func (f *fakeVolumes) QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error) {
	return []domain.TokenVolume{{Token: filter.Token}}, nil
}

func (f *fakeVolumes) Ping(ctx context.Context) error { return f.pingErr }

func TestRepositoryRoutesByKind(t *testing.T) {
	settlements := &fakeSettlements{}
	volumes := &fakeVolumes{}
	repo, err := NewRepository(settlements, volumes)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.StoreSettlementRecords(ctx, make([]domain.SettlementRecord, 2)))
	require.NoError(t, repo.StoreTokenVolumes(ctx, make([]domain.TokenVolume, 3)))
	assert.Equal(t, 2, settlements.stored)
	assert.Equal(t, 3, volumes.stored)

	records, err := repo.QuerySettlements(ctx, application.SettlementQueryFilter{TxHash: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "0x1", records[0].TxHash)

	rows, err := repo.QueryTokenVolumes(ctx, application.TokenVolumeQueryFilter{Token: "0xt"})
	require.NoError(t, err)
	assert.Equal(t, "0xt", rows[0].Token)
}

func TestRepositoryPingChecksBothStores(t *testing.T) {
	volumes := &fakeVolumes{pingErr: errors.New("clickhouse down")}
	repo, err := NewRepository(&fakeSettlements{}, volumes)
	require.NoError(t, err)
	assert.EqualError(t, repo.Ping(context.Background()), "clickhouse down")
}

func TestNewRepositoryRequiresStores(t *testing.T) {
	_, err := NewRepository(nil, &fakeVolumes{})
	assert.Error(t, err)
	_, err = NewRepository(&fakeSettlements{}, nil)
	assert.Error(t, err)
}

func TestOpenSQLiteBackend(t *testing.T) {
	handle, err := Open(OpenConfig{SQLitePath: ":memory:", DBDSN: "ignored"})
	require.NoError(t, err)
	defer handle.Close()
	ctx := context.Background()

	assert.Equal(t, "sqlite", handle.Backend)
	require.NoError(t, handle.Ping(ctx))
	require.NoError(t, handle.Cursor.SetLastSettlementTimestamp(ctx, 42))
	cursor, ok, err := handle.Cursor.LastSettlementTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), cursor)
}

func TestOpenRequiresBackend(t *testing.T) {
	_, err := Open(OpenConfig{})
	assert.Error(t, err)
	_, err = Open(OpenConfig{DBDSN: "user@tcp(localhost:3306)/cowindex"})
	assert.EqualError(t, err, "CLICKHOUSE_DSN is required with DB_DSN")
}
