package orderbook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cowindex/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orders/0xaa":
			_, _ = w.Write([]byte(`{"uid":"0xAA","owner":"0xO","receiver":"0xR","sellToken":"0xS","buyToken":"0xB","class":"liquidity"}`))
		case "/api/v1/orders/0xbb":
			_, _ = w.Write([]byte(`{"uid":"0xBB","owner":"0xO","receiver":null,"sellToken":"0xS","buyToken":"0xB","class":"market"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL + "/"})
	require.NoError(t, err)

	order, err := client.FetchOrder(context.Background(), "0xaa")
	require.NoError(t, err)
	assert.Equal(t, domain.Order{
		UID:              "0xaa",
		Owner:            "0xo",
		Receiver:         "0xr",
		SellToken:        "0xs",
		BuyToken:         "0xb",
		IsLiquidityOrder: true,
	}, order)

	order, err = client.FetchOrder(context.Background(), "0xbb")
	require.NoError(t, err)
	assert.False(t, order.IsLiquidityOrder)
	assert.Empty(t, order.Receiver)

	_, err = client.FetchOrder(context.Background(), "0xcc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
