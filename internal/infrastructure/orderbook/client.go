package orderbook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cowindex/internal/domain"
	"cowindex/internal/infrastructure/httpclient"
)

// Client reads order metadata from the protocol orderbook API.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(cfg Config, opts ...httpclient.Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("orderbook url is required")
	}
	options := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	}
	return &Client{baseURL: base, http: httpclient.New(append(options, opts...)...)}, nil
}

type apiOrder struct {
	UID              string `json:"uid"`
	Owner            string `json:"owner"`
	Receiver         string `json:"receiver"`
	SellToken        string `json:"sellToken"`
	BuyToken         string `json:"buyToken"`
	Class            string `json:"class"`
	IsLiquidityOrder bool   `json:"isLiquidityOrder"`
}

// FetchOrder returns domain.ErrNotFound when the orderbook does not know uid.
func (c *Client) FetchOrder(ctx context.Context, uid string) (domain.Order, error) {
	endpoint := fmt.Sprintf("%s/api/v1/orders/%s", c.baseURL, url.PathEscape(uid))
	var order apiOrder
	if err := c.http.GetJSON(ctx, endpoint, &order); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return domain.Order{}, fmt.Errorf("order %s: %w", uid, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("order %s: %w", uid, err)
	}

	if order.UID == "" {
		order.UID = uid
	}
	return domain.Order{
		UID:              strings.ToLower(order.UID),
		Owner:            strings.ToLower(order.Owner),
		Receiver:         strings.ToLower(order.Receiver),
		SellToken:        strings.ToLower(order.SellToken),
		BuyToken:         strings.ToLower(order.BuyToken),
		IsLiquidityOrder: order.IsLiquidityOrder || strings.EqualFold(order.Class, "liquidity"),
	}, nil
}
