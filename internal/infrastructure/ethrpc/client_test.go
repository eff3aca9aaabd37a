package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cowindex/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiptJSON = `{
  "transactionHash": "0xAB00000000000000000000000000000000000000000000000000000000000001",
  "blockNumber": "0x1036640",
  "blockHash": "0xCD00000000000000000000000000000000000000000000000000000000000002",
  "status": "0x1",
  "logs": [
    {"address": "0x9008D19f58AAbD9eD0D60971565AA8510560ab41", "topics": ["0x01"], "data": "0x", "logIndex": "0x3"},
    {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "topics": ["0x02"], "data": "0x00", "logIndex": "0xa"}
  ]
}`

func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestFetchReceipt(t *testing.T) {
	server := rpcServer(t, receiptJSON)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	receipt, err := client.FetchReceipt(context.Background(), "0xab00000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)

	assert.Equal(t, uint64(17_000_000), receipt.BlockNumber)
	assert.Equal(t, uint64(1), receipt.Status)
	assert.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000001", receipt.TxHash)
	require.Len(t, receipt.Logs, 2)
	assert.Equal(t, "0x9008d19f58aabd9ed0d60971565aa8510560ab41", receipt.Logs[0].Address)
	assert.Equal(t, uint64(3), receipt.Logs[0].LogIndex)
	assert.Equal(t, uint64(10), receipt.Logs[1].LogIndex)
	assert.Equal(t, uint64(17_000_000), receipt.Logs[1].BlockNumber)
}

func TestFetchReceiptNull(t *testing.T) {
	server := rpcServer(t, "null")
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = client.FetchReceipt(context.Background(), "0x01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRPCErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"header not found"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = client.LatestBlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header not found")
}

func TestLatestBlockNumber(t *testing.T) {
	server := rpcServer(t, `"0x10"`)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL})
	require.NoError(t, err)

	block, err := client.LatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), block)
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
