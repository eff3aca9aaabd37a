package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	okHash       = "0x" + strings.Repeat("a", 64)
	missingHash  = "0x" + strings.Repeat("b", 64)
	zeroHash     = "0x" + strings.Repeat("c", 64)
	noPriceHash  = "0x" + strings.Repeat("d", 64)
	brokenHash   = "0x" + strings.Repeat("e", 64)
	violatesHash = "0x" + strings.Repeat("f", 64)
)

type fakeCalculator struct{}

func (fakeCalculator) ComputeDetailed(ctx context.Context, txHash string) (domain.CowinessResult, error) {
	wrap := func(err error) error {
		return &application.ComputeError{TxHash: txHash, Stage: application.StagePricing, Err: err}
	}
	switch txHash {
	case okHash:
		return domain.CowinessResult{
			TxHash:            txHash,
			BlockNumber:       17000000,
			CowValue:          0.25,
			TotalVolumeInUSD:  decimal.NewFromInt(200),
			TotalVolumeOutUSD: decimal.NewFromInt(150),
			VolumeInUSD: map[string]domain.PricedVolume{
				"0xtoken": {Amount: decimal.NewFromInt(2), USDValue: decimal.NewFromInt(200)},
			},
			VolumeOutUSD: map[string]domain.PricedVolume{},
		}, nil
	case missingHash:
		return domain.CowinessResult{}, wrap(domain.ErrNotFound)
	case zeroHash:
		return domain.CowinessResult{}, wrap(domain.ErrDivisionUndefined)
	case noPriceHash:
		return domain.CowinessResult{}, wrap(domain.ErrPriceUnavailable)
	case violatesHash:
		return domain.CowinessResult{}, wrap(domain.ErrFormatViolation)
	default:
		return domain.CowinessResult{}, wrap(errors.New("boom"))
	}
}

type fakeStore struct {
	pingErr        error
	lastSettlement application.SettlementQueryFilter
	lastVolume     application.TokenVolumeQueryFilter
}

func (f *fakeStore) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
	f.lastSettlement = filter
	return []domain.SettlementRecord{{TxHash: okHash, Status: domain.SettlementStatusComputed}}, nil
}

func (f *fakeStore) QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error) {
	f.lastVolume = filter
	return []domain.TokenVolume{{TxHash: okHash, Token: "0xtoken"}}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeRPC struct {
	err error
}

func (f fakeRPC) LatestBlockNumber(ctx context.Context) (uint64, error) { return 1, f.err }

func newTestServer(t *testing.T, store ResultStore, rpc RPCStatus) *Server {
	t.Helper()
	server, err := NewServer(fakeCalculator{}, store, rpc, nil, BuildInfo{Version: "v1.2.3"})
	require.NoError(t, err)
	return server
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCowinessSummary(t *testing.T) {
	handler := newTestServer(t, &fakeStore{}, fakeRPC{}).Handler()

	rec := get(t, handler, "/cowiness/v1?batch_tx="+okHash)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cowiness":0.25}`, rec.Body.String())
}

func TestCowinessExtended(t *testing.T) {
	handler := newTestServer(t, &fakeStore{}, fakeRPC{}).Handler()

	rec := get(t, handler, "/cowiness/v1/extended")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, handler, "/cowiness/v1/extended?batch_tx=0x"+strings.ToUpper(okHash[2:]))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, okHash, body["tx_hash"])
	assert.Equal(t, 0.25, body["cowiness"])
	assert.Equal(t, "200", body["total_volume_in_usd"])
	assert.Equal(t, "150", body["total_volume_out_usd"])
	assert.Contains(t, body["volume_in_usd"], "0xtoken")
}

func TestCowinessErrorStatuses(t *testing.T) {
	handler := newTestServer(t, &fakeStore{}, fakeRPC{}).Handler()

	cases := []struct {
		name   string
		hash   string
		status int
		class  string
	}{
		{name: "invalid hash", hash: "0x1234", status: http.StatusBadRequest},
		{name: "not found", hash: missingHash, status: http.StatusNotFound, class: "not_found"},
		{name: "format violation", hash: violatesHash, status: http.StatusUnprocessableEntity, class: "format_violation"},
		{name: "zero volume", hash: zeroHash, status: http.StatusUnprocessableEntity, class: "division_undefined"},
		{name: "no price", hash: noPriceHash, status: http.StatusBadGateway, class: "price_unavailable"},
		{name: "internal", hash: brokenHash, status: http.StatusInternalServerError, class: "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, handler, "/cowiness/v1?batch_tx="+tc.hash)
			assert.Equal(t, tc.status, rec.Code)
			if tc.class != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tc.class, body["class"])
			}
		})
	}
}

func TestSettlementsFilter(t *testing.T) {
	store := &fakeStore{}
	handler := newTestServer(t, store, fakeRPC{}).Handler()

	rec := get(t, handler, "/settlements?solver=0xABC&status=failed&from_timestamp=10&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", store.lastSettlement.Solver)
	assert.Equal(t, domain.SettlementStatusFailed, store.lastSettlement.Status)
	require.NotNil(t, store.lastSettlement.FromTimestamp)
	assert.Equal(t, int64(10), *store.lastSettlement.FromTimestamp)
	assert.Nil(t, store.lastSettlement.ToTimestamp)
	assert.Equal(t, 100, store.lastSettlement.Limit)

	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/settlements?status=pending").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/settlements?to_timestamp=x").Code)
}

func TestVolumesFilter(t *testing.T) {
	store := &fakeStore{}
	handler := newTestServer(t, store, fakeRPC{}).Handler()

	rec := get(t, handler, "/volumes?token=0xTOKEN&direction=out&limit=7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xtoken", store.lastVolume.Token)
	assert.Equal(t, domain.VolumeDirectionOut, store.lastVolume.Direction)
	assert.Equal(t, 7, store.lastVolume.Limit)

	assert.Equal(t, http.StatusBadRequest, get(t, handler, "/volumes?direction=sideways").Code)
}

func TestStoredRoutesWithoutStore(t *testing.T) {
	handler := newTestServer(t, nil, fakeRPC{}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, handler, "/settlements").Code)
	assert.Equal(t, http.StatusOK, get(t, handler, "/readyz").Code)
}

func TestReadiness(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newTestServer(t, &fakeStore{}, fakeRPC{}).Handler(), "/readyz").Code)

	dbDown := newTestServer(t, &fakeStore{pingErr: errors.New("down")}, fakeRPC{}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, dbDown, "/readyz").Code)

	rpcDown := newTestServer(t, &fakeStore{}, fakeRPC{err: errors.New("down")}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rpcDown, "/readyz").Code)
}

func TestVersionAndMetrics(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, fakeRPC{})
	handler := server.Handler()

	rec := get(t, handler, "/version")
	assert.JSONEq(t, `{"version":"v1.2.3","commit":"","build_time":""}`, rec.Body.String())

	server.metrics.OnComputed(time.Second, nil)
	server.metrics.OnComputed(2*time.Second, fmt.Errorf("wrapped: %w", domain.ErrPriceUnavailable))
	server.metrics.OnPageIngested(1700000000, 3)
	server.metrics.IncKafkaFlushErr()

	rec = get(t, handler, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cowindex_computations_total 2\n")
	assert.Contains(t, body, `cowindex_computation_failures_total{class="price_unavailable"} 1`)
	assert.Contains(t, body, "cowindex_computation_duration_seconds_sum 3\n")
	assert.Contains(t, body, "cowindex_computation_duration_seconds_count 2\n")
	assert.Contains(t, body, "cowindex_ingest_cursor_timestamp 1.7e+09\n")
	assert.Contains(t, body, "cowindex_ingest_settlements_total 3\n")
	assert.Contains(t, body, `cowindex_kafka_errors_total{stage="flush"} 1`)
	assert.Contains(t, body, "go_goroutines ")
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	first, second := NewMetrics(), NewMetrics()
	first.IncKafkaDecodeErr()
	second.OnComputed(time.Millisecond, domain.ErrFormatViolation)

	rec := httptest.NewRecorder()
	MetricsHandler(first).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `cowindex_kafka_errors_total{stage="decode"} 1`)
	assert.Contains(t, rec.Body.String(), "cowindex_computations_total 0\n")

	rec = httptest.NewRecorder()
	MetricsHandler(second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `cowindex_computation_failures_total{class="format_violation"} 1`)
	assert.NotContains(t, rec.Body.String(), "cowindex_kafka_errors_total")
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, nil, fakeRPC{}, nil, BuildInfo{})
	assert.Error(t, err)
}
