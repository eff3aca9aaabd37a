package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cowindex/internal/application"
	"cowindex/internal/domain"

	"github.com/shopspring/decimal"
)

type ResultStore interface {
	QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error)
	QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error)
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	calc      application.Calculator
	store     ResultStore
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

// NewServer wires the API. store may be nil when no result database is
// configured; the stored-result routes then answer 503.
func NewServer(calc application.Calculator, store ResultStore, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if calc == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{calc: calc, store: store, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cowiness/v1", s.handleCowiness)
	mux.HandleFunc("GET /cowiness/v1/extended", s.handleCowinessExtended)
	mux.HandleFunc("GET /settlements", s.handleSettlements)
	mux.HandleFunc("GET /volumes", s.handleVolumes)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", MetricsHandler(s.metrics))
	mux.HandleFunc("GET /version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return ListenAndServe(ctx, addr, s.Handler())
}

// ListenAndServe runs handler until ctx is done. The ingest and compute
// binaries use it to expose /metrics alone.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func MetricsHandler(metrics *Metrics) http.Handler {
	return metrics.Handler()
}

type extendedResponse struct {
	TxHash            string                         `json:"tx_hash"`
	BlockNumber       uint64                         `json:"block_number"`
	Cowiness          float64                        `json:"cowiness"`
	TotalVolumeInUSD  decimal.Decimal                `json:"total_volume_in_usd"`
	TotalVolumeOutUSD decimal.Decimal                `json:"total_volume_out_usd"`
	VolumeInUSD       map[string]domain.PricedVolume `json:"volume_in_usd"`
	VolumeOutUSD      map[string]domain.PricedVolume `json:"volume_out_usd"`
}

func (s *Server) handleCowiness(w http.ResponseWriter, r *http.Request) {
	result, ok := s.compute(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"cowiness": result.CowValue})
}

func (s *Server) handleCowinessExtended(w http.ResponseWriter, r *http.Request) {
	result, ok := s.compute(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, extendedResponse{
		TxHash:            result.TxHash,
		BlockNumber:       result.BlockNumber,
		Cowiness:          result.CowValue,
		TotalVolumeInUSD:  result.TotalVolumeInUSD,
		TotalVolumeOutUSD: result.TotalVolumeOutUSD,
		VolumeInUSD:       result.VolumeInUSD,
		VolumeOutUSD:      result.VolumeOutUSD,
	})
}

func (s *Server) compute(w http.ResponseWriter, r *http.Request) (domain.CowinessResult, bool) {
	txHash, err := application.NormalizeTxHash(r.URL.Query().Get("batch_tx"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return domain.CowinessResult{}, false
	}
	result, err := s.calc.ComputeDetailed(r.Context(), txHash)
	if err != nil {
		class := application.ErrorClass(err)
		status := statusForClass(class)
		if status >= http.StatusInternalServerError {
			slog.Error("cowiness request failed", "tx_hash", txHash, "class", class, "err", err)
		}
		respondJSON(w, status, map[string]string{"error": err.Error(), "class": class})
		return domain.CowinessResult{}, false
	}
	return result, true
}

func statusForClass(class string) int {
	switch class {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "format_violation", "division_undefined":
		return http.StatusUnprocessableEntity
	case "price_unavailable":
		return http.StatusBadGateway
	case "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	filter, err := parseSettlementFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.QuerySettlements(r.Context(), filter)
	if err != nil {
		slog.Error("settlement query failed", "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	filter, err := parseVolumeFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	volumes, err := s.store.QueryTokenVolumes(r.Context(), filter)
	if err != nil {
		slog.Error("volume query failed", "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, volumes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "db not ready")
			return
		}
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func parseSettlementFilter(r *http.Request) (application.SettlementQueryFilter, error) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return application.SettlementQueryFilter{}, err
	}
	from, err := parseTimestamp(query.Get("from_timestamp"), "from_timestamp")
	if err != nil {
		return application.SettlementQueryFilter{}, err
	}
	to, err := parseTimestamp(query.Get("to_timestamp"), "to_timestamp")
	if err != nil {
		return application.SettlementQueryFilter{}, err
	}
	status := domain.SettlementStatus(strings.ToLower(query.Get("status")))
	switch status {
	case "", domain.SettlementStatusComputed, domain.SettlementStatusFailed:
	default:
		return application.SettlementQueryFilter{}, errors.New("invalid status")
	}
	return application.SettlementQueryFilter{
		TxHash:        strings.ToLower(query.Get("tx_hash")),
		Solver:        strings.ToLower(query.Get("solver")),
		Status:        status,
		FromTimestamp: from,
		ToTimestamp:   to,
		Limit:         limit,
	}, nil
}

func parseVolumeFilter(r *http.Request) (application.TokenVolumeQueryFilter, error) {
	query := r.URL.Query()
	limit, err := parseLimit(r)
	if err != nil {
		return application.TokenVolumeQueryFilter{}, err
	}
	direction := domain.VolumeDirection(strings.ToLower(query.Get("direction")))
	switch direction {
	case "", domain.VolumeDirectionIn, domain.VolumeDirectionOut:
	default:
		return application.TokenVolumeQueryFilter{}, errors.New("invalid direction")
	}
	return application.TokenVolumeQueryFilter{
		TxHash:    strings.ToLower(query.Get("tx_hash")),
		Token:     strings.ToLower(query.Get("token")),
		Direction: direction,
		Limit:     limit,
	}, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return application.ClampLimit(value), nil
	}
	return application.ClampLimit(0), nil
}

func parseTimestamp(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return nil, errors.New("invalid " + name)
	}
	return &value, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
