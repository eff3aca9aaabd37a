package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cowindex/internal/domain"
	"cowindex/internal/infrastructure/httpclient"

	"github.com/shopspring/decimal"
)

// Client queries the protocol's indexing subgraph over GraphQL.
type Client struct {
	url  string
	http *httpclient.Client
}

type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(cfg Config, opts ...httpclient.Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("subgraph url is required")
	}
	options := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	}
	return &Client{url: cfg.URL, http: httpclient.New(append(options, opts...)...)}, nil
}

const settlementPricesQuery = `query SettlementPrices($id: ID!) {
  settlement(id: $id) {
    trades {
      sellAmount
      buyAmount
      sellAmountUsd
      buyAmountUsd
      sellToken { address decimals name }
      buyToken { address decimals name }
    }
  }
}`

const tokenPriceQuery = `query TokenPrice($blockNumber: Int!, $tokenAddress: String!) {
  token(id: $tokenAddress, block: { number: $blockNumber }) {
    address
    name
    decimals
    priceUsd
  }
}`

const settlementsQuery = `query Settlements($timestamp: Int!, $limit: Int!) {
  settlements(
    where: { firstTradeTimestamp_%s: $timestamp }
    first: $limit
    orderBy: firstTradeTimestamp
    orderDirection: asc
  ) {
    id
    txHash
    firstTradeTimestamp
    solver { address }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type subgraphToken struct {
	Address  string  `json:"address"`
	Name     string  `json:"name"`
	Decimals int32   `json:"decimals"`
	PriceUSD *string `json:"priceUsd"`
}

type subgraphTrade struct {
	SellAmount    string        `json:"sellAmount"`
	BuyAmount     string        `json:"buyAmount"`
	SellAmountUSD string        `json:"sellAmountUsd"`
	BuyAmountUSD  string        `json:"buyAmountUsd"`
	SellToken     subgraphToken `json:"sellToken"`
	BuyToken      subgraphToken `json:"buyToken"`
}

// FetchTxTokenPrices derives a USD price for every token the settlement's
// trades touched, from the trade's USD amounts. When one side has no USD
// amount the other side's is used. The first trade that prices a token wins.
func (c *Client) FetchTxTokenPrices(ctx context.Context, txHash string) (map[string]domain.TokenPrice, error) {
	var data struct {
		Settlement *struct {
			Trades []subgraphTrade `json:"trades"`
		} `json:"settlement"`
	}
	if err := c.query(ctx, settlementPricesQuery, map[string]any{"id": strings.ToLower(txHash)}, &data); err != nil {
		return nil, err
	}
	if data.Settlement == nil {
		return nil, fmt.Errorf("settlement %s: %w", txHash, domain.ErrNotFound)
	}

	prices := make(map[string]domain.TokenPrice)
	for _, trade := range data.Settlement.Trades {
		sellUSD := parseDecimal(trade.SellAmountUSD)
		buyUSD := parseDecimal(trade.BuyAmountUSD)
		if sellUSD.IsZero() {
			sellUSD = buyUSD
		}
		if buyUSD.IsZero() {
			buyUSD = sellUSD
		}
		addTradePrice(prices, trade.SellToken, trade.SellAmount, sellUSD)
		addTradePrice(prices, trade.BuyToken, trade.BuyAmount, buyUSD)
	}
	return prices, nil
}

func addTradePrice(prices map[string]domain.TokenPrice, token subgraphToken, rawAmount string, usd decimal.Decimal) {
	key := strings.ToLower(token.Address)
	if key == "" {
		return
	}
	if _, ok := prices[key]; ok {
		return
	}
	amount := parseDecimal(rawAmount).Shift(-token.Decimals)
	if amount.IsZero() {
		return
	}
	prices[key] = domain.TokenPrice{
		Address:  key,
		Name:     token.Name,
		Decimals: token.Decimals,
		PriceUSD: usd.Div(amount),
	}
}

// FetchTokenPriceAtBlock reads the token entity as of the given block.
func (c *Client) FetchTokenPriceAtBlock(ctx context.Context, blockNumber uint64, token string) (domain.TokenPrice, error) {
	var data struct {
		Token *subgraphToken `json:"token"`
	}
	vars := map[string]any{"blockNumber": blockNumber, "tokenAddress": strings.ToLower(token)}
	if err := c.query(ctx, tokenPriceQuery, vars, &data); err != nil {
		return domain.TokenPrice{}, err
	}
	if data.Token == nil || data.Token.PriceUSD == nil {
		return domain.TokenPrice{}, fmt.Errorf("token %s at block %d: %w", token, blockNumber, domain.ErrPriceUnavailable)
	}
	price, err := decimal.NewFromString(*data.Token.PriceUSD)
	if err != nil {
		return domain.TokenPrice{}, fmt.Errorf("token %s price %q: %w", token, *data.Token.PriceUSD, err)
	}
	return domain.TokenPrice{
		Address:  strings.ToLower(token),
		Name:     data.Token.Name,
		Decimals: data.Token.Decimals,
		PriceUSD: price,
	}, nil
}

// FetchSettlementsSince lists settlements whose first trade is after
// timestamp, oldest first. inclusive also returns settlements at timestamp.
func (c *Client) FetchSettlementsSince(ctx context.Context, timestamp int64, inclusive bool, limit int) ([]domain.Settlement, error) {
	var data struct {
		Settlements []struct {
			ID                  string `json:"id"`
			TxHash              string `json:"txHash"`
			FirstTradeTimestamp int64  `json:"firstTradeTimestamp"`
			Solver              *struct {
				Address string `json:"address"`
			} `json:"solver"`
		} `json:"settlements"`
	}
	vars := map[string]any{"timestamp": timestamp, "limit": limit}
	op := "gt"
	if inclusive {
		op = "gte"
	}
	if err := c.query(ctx, fmt.Sprintf(settlementsQuery, op), vars, &data); err != nil {
		return nil, err
	}

	settlements := make([]domain.Settlement, 0, len(data.Settlements))
	for _, item := range data.Settlements {
		settlement := domain.Settlement{
			ID:                  strings.ToLower(item.ID),
			TxHash:              strings.ToLower(item.TxHash),
			FirstTradeTimestamp: item.FirstTradeTimestamp,
		}
		if settlement.TxHash == "" {
			settlement.TxHash = settlement.ID
		}
		if item.Solver != nil {
			settlement.Solver = strings.ToLower(item.Solver.Address)
		}
		settlements = append(settlements, settlement)
	}
	return settlements, nil
}

func (c *Client) query(ctx context.Context, query string, variables map[string]any, result any) error {
	var resp graphQLResponse
	if err := c.http.PostJSON(ctx, c.url, graphQLRequest{Query: query, Variables: variables}, &resp); err != nil {
		return fmt.Errorf("subgraph: %w", err)
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		for _, item := range resp.Errors {
			messages = append(messages, item.Message)
		}
		return fmt.Errorf("subgraph: %s", strings.Join(messages, "; "))
	}
	if len(resp.Data) == 0 {
		return errors.New("subgraph: empty data")
	}
	return json.Unmarshal(resp.Data, result)
}

func parseDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}
