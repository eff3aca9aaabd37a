package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	RPCURL        string
	OrderbookURL  string
	SubgraphURL   string
	DBDSN         string
	SQLitePath    string
	ClickhouseDSN string
	HTTPAddr      string
	RedisAddr     string
	CacheTTL      time.Duration
	OtelEndpoint  string

	SettlementAddress common.Address
	NativeToken       common.Address
	WrappedNative     common.Address

	ReconstructionStrategy string
	PricePinning           string
	FetchWorkers           int
	HTTPClientTimeout      time.Duration
	HTTPClientRetries      int

	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
	ChainID        uint64
	StartTimestamp int64
	PollInterval   time.Duration
	BatchSize      uint64

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || strings.TrimSpace(rpcURL) == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	settlement, err := parseAddressEnv(source, "SETTLEMENT_ADDRESS", "0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	if err != nil {
		return Config{}, err
	}
	native, err := parseAddressEnv(source, "NATIVE_TOKEN_ADDRESS", "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	if err != nil {
		return Config{}, err
	}
	wrapped, err := parseAddressEnv(source, "WRAPPED_NATIVE_ADDRESS", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	if err != nil {
		return Config{}, err
	}

	fetchWorkers, err := parseUintEnv(source, "FETCH_WORKERS", 8)
	if err != nil {
		return Config{}, err
	}
	retries, err := parseUintEnv(source, "HTTP_CLIENT_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	chainID, err := parseUintEnv(source, "CHAIN_ID", 1)
	if err != nil {
		return Config{}, err
	}
	startTimestamp, err := parseUintEnv(source, "START_TIMESTAMP", 0)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "BATCH_SIZE", 50)
	if err != nil {
		return Config{}, err
	}
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	clientTimeout, err := parseDurationEnv(source, "HTTP_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	strategy := lookupDefault(source, "RECONSTRUCTION_STRATEGY", "accumulator")
	switch strings.ToLower(strategy) {
	case "accumulator", "graph":
	default:
		return Config{}, fmt.Errorf("invalid RECONSTRUCTION_STRATEGY %q", strategy)
	}
	pinning := lookupDefault(source, "PRICE_PINNING", "snapshot")
	switch strings.ToLower(pinning) {
	case "snapshot", "block":
	default:
		return Config{}, fmt.Errorf("invalid PRICE_PINNING %q", pinning)
	}

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}

	redisAddr := "127.0.0.1:6379"
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	logFile, _ := source.Lookup("LOG_FILE")
	sqlitePath, _ := source.Lookup("SQLITE_PATH")

	return Config{
		RPCURL:        strings.TrimSpace(rpcURL),
		OrderbookURL:  lookupDefault(source, "ORDERBOOK_URL", "https://api.cow.fi/mainnet"),
		SubgraphURL:   lookupDefault(source, "SUBGRAPH_URL", "https://api.thegraph.com/subgraphs/name/cowprotocol/cow"),
		DBDSN:         lookupDefault(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/cowindex?parseTime=true&multiStatements=true"),
		SQLitePath:    strings.TrimSpace(sqlitePath),
		ClickhouseDSN: lookupDefault(source, "CLICKHOUSE_DSN", "clickhouse://127.0.0.1:9000?database=cowindex"),
		HTTPAddr:      lookupDefault(source, "HTTP_ADDR", ":8080"),
		RedisAddr:     redisAddr,
		CacheTTL:      cacheTTL,
		OtelEndpoint:  strings.TrimSpace(otelEndpoint),

		SettlementAddress: settlement,
		NativeToken:       native,
		WrappedNative:     wrapped,

		ReconstructionStrategy: strings.ToLower(strategy),
		PricePinning:           strings.ToLower(pinning),
		FetchWorkers:           int(fetchWorkers),
		HTTPClientTimeout:      clientTimeout,
		HTTPClientRetries:      int(retries),

		KafkaBrokers:   kafkaBrokers,
		KafkaTopic:     lookupDefault(source, "KAFKA_TOPIC", "cowindex-settlements"),
		KafkaGroupID:   lookupDefault(source, "KAFKA_GROUP_ID", "cowindex-compute"),
		ChainID:        chainID,
		StartTimestamp: int64(startTimestamp),
		PollInterval:   pollInterval,
		BatchSize:      batchSize,

		LogLevel:      lookupDefault(source, "LOG_LEVEL", "info"),
		LogFormat:     lookupDefault(source, "LOG_FORMAT", "text"),
		LogFile:       strings.TrimSpace(logFile),
		LogMaxSizeMB:  int(logMaxSize),
		LogMaxBackups: int(logMaxBackups),
	}, nil
}

func lookupDefault(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseAddressEnv(source EnvSource, key, defaultValue string) (common.Address, error) {
	raw := lookupDefault(source, key, defaultValue)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not an address", key, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}
