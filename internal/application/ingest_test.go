package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"cowindex/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettlementSource struct {
	pages     [][]domain.Settlement
	since     []int64
	inclusive []bool
}

func (f *fakeSettlementSource) FetchSettlementsSince(ctx context.Context, timestamp int64, inclusive bool, limit int) ([]domain.Settlement, error) {
	f.since = append(f.since, timestamp)
	f.inclusive = append(f.inclusive, inclusive)
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type fakeSettlementWriter struct {
	published []domain.Settlement
	err       error
}

func (f *fakeSettlementWriter) PublishSettlements(ctx context.Context, settlements []domain.Settlement) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, settlements...)
	return nil
}

type fakeCursor struct {
	value int64
	ok    bool
}

func (f *fakeCursor) LastSettlementTimestamp(ctx context.Context) (int64, bool, error) {
	return f.value, f.ok, nil
}

func (f *fakeCursor) SetLastSettlementTimestamp(ctx context.Context, timestamp int64) error {
	f.value, f.ok = timestamp, true
	return nil
}

func TestIngesterAdvancesCursor(t *testing.T) {
	source := &fakeSettlementSource{pages: [][]domain.Settlement{{
		{ID: "0x1", TxHash: "0x1", FirstTradeTimestamp: 110},
		{ID: "0x2", TxHash: "0x2", FirstTradeTimestamp: 120},
	}}}
	writer := &fakeSettlementWriter{}
	cursor := &fakeCursor{}

	ingester, err := NewIngester(source, writer, cursor, nil, IngestConfig{StartTimestamp: 100, BatchSize: 10})
	require.NoError(t, err)

	count, err := ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []int64{100}, source.since)
	assert.Len(t, writer.published, 2)
	assert.Equal(t, int64(120), cursor.value)

	count, err = ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, []int64{100, 120}, source.since)
	assert.Equal(t, []bool{true, false}, source.inclusive)
}

func TestIngesterRevisitsCursorTimestampAfterFullPage(t *testing.T) {
	source := &fakeSettlementSource{pages: [][]domain.Settlement{
		{
			{ID: "0x1", TxHash: "0x1", FirstTradeTimestamp: 110},
			{ID: "0x2", TxHash: "0x2", FirstTradeTimestamp: 120},
		},
		{
			{ID: "0x2", TxHash: "0x2", FirstTradeTimestamp: 120},
			{ID: "0x3", TxHash: "0x3", FirstTradeTimestamp: 120},
		},
		{
			{ID: "0x2", TxHash: "0x2", FirstTradeTimestamp: 120},
			{ID: "0x3", TxHash: "0x3", FirstTradeTimestamp: 120},
		},
	}}
	writer := &fakeSettlementWriter{}
	cursor := &fakeCursor{value: 100, ok: true}

	ingester, err := NewIngester(source, writer, cursor, nil, IngestConfig{BatchSize: 2})
	require.NoError(t, err)

	count, err := ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, writer.published, 3)
	assert.Equal(t, "0x3", writer.published[2].TxHash)
	assert.Equal(t, int64(120), cursor.value)

	count, err = ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, writer.published, 3)

	count, err = ingester.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, []int64{100, 120, 120, 120}, source.since)
	assert.Equal(t, []bool{true, true, true, false}, source.inclusive)
}

func TestIngesterKeepsCursorWhenPublishFails(t *testing.T) {
	source := &fakeSettlementSource{pages: [][]domain.Settlement{{{ID: "0x1", TxHash: "0x1", FirstTradeTimestamp: 110}}}}
	writer := &fakeSettlementWriter{err: errors.New("broker down")}
	cursor := &fakeCursor{value: 100, ok: true}

	ingester, err := NewIngester(source, writer, cursor, nil, IngestConfig{})
	require.NoError(t, err)

	_, err = ingester.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(100), cursor.value)
}

func TestIngesterRunStopsOnCancel(t *testing.T) {
	ingester, err := NewIngester(&fakeSettlementSource{}, &fakeSettlementWriter{}, &fakeCursor{}, nil, IngestConfig{PollInterval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = ingester.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewIngesterRequiresDependencies(t *testing.T) {
	_, err := NewIngester(nil, &fakeSettlementWriter{}, &fakeCursor{}, nil, IngestConfig{})
	assert.Error(t, err)
}
