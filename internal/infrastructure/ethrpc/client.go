package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cowindex/internal/domain"
	"cowindex/internal/infrastructure/httpclient"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client reads transaction receipts over Ethereum JSON-RPC.
type Client struct {
	url       string
	http      *httpclient.Client
	idCounter uint64
}

type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(cfg Config, opts ...httpclient.Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	options := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	}
	return &Client{
		url:  cfg.URL,
		http: httpclient.New(append(options, opts...)...),
	}, nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// FetchReceipt returns the receipt with its logs. A pending or unknown
// transaction yields domain.ErrNotFound.
func (c *Client) FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return domain.Receipt{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return domain.Receipt{}, fmt.Errorf("receipt %s: %w", txHash, domain.ErrNotFound)
	}

	var result rpcReceipt
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}

	blockNumber, err := parseHexUint(result.BlockNumber)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("receipt block number: %w", err)
	}
	var status uint64
	if result.Status != "" {
		if status, err = parseHexUint(result.Status); err != nil {
			return domain.Receipt{}, fmt.Errorf("receipt status: %w", err)
		}
	}

	logs := make([]domain.LogEntry, 0, len(result.Logs))
	for _, log := range result.Logs {
		logIndex, err := parseHexUint(log.LogIndex)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("log index: %w", err)
		}
		logs = append(logs, domain.LogEntry{
			BlockNumber: blockNumber,
			TxHash:      strings.ToLower(result.TxHash),
			LogIndex:    logIndex,
			Address:     strings.ToLower(log.Address),
			Data:        log.Data,
			Topics:      log.Topics,
			Removed:     log.Removed,
		})
	}

	return domain.Receipt{
		TxHash:      strings.ToLower(result.TxHash),
		BlockNumber: blockNumber,
		BlockHash:   strings.ToLower(result.BlockHash),
		Status:      status,
		Logs:        logs,
	}, nil
}

type rpcReceipt struct {
	TxHash      string   `json:"transactionHash"`
	BlockNumber string   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	Status      string   `json:"status"`
	Logs        []rpcLog `json:"logs"`
}

type rpcLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex string   `json:"logIndex"`
	Removed  bool     `json:"removed"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call retries transport failures through the http client. RPC level errors
// are returned as is.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	var decoded rpcResponse
	err := c.http.PostJSON(ctx, c.url, rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}, &decoded)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = decoded.Result
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	if value == "" {
		return 0, errors.New("empty hex value")
	}
	return hexutil.DecodeUint64(value)
}
