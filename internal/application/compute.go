package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cowindex/internal/domain"
	"cowindex/internal/streaming"
)

type Calculator interface {
	ComputeDetailed(ctx context.Context, txHash string) (domain.CowinessResult, error)
}

type ResultRepository interface {
	StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error
	StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error
}

// ComputeMessage runs the calculator for one settlement message. A failed
// computation still yields a record carrying the error class. Only context
// cancellation is returned as an error, so the caller can stop without
// persisting a spurious failure.
func ComputeMessage(ctx context.Context, calc Calculator, msg streaming.Message) (domain.SettlementRecord, []domain.TokenVolume, error) {
	if calc == nil {
		return domain.SettlementRecord{}, nil, errors.New("calculator is required")
	}
	slog.DebugContext(ctx, "consume message",
		"type", msg.Type,
		"chain_id", msg.ChainID,
		"tx_hash", msg.TxHash,
	)
	if msg.Type != streaming.MessageTypeSettlement {
		return domain.SettlementRecord{}, nil, errors.New("unknown message type")
	}

	record := domain.SettlementRecord{
		TxHash:              strings.ToLower(msg.TxHash),
		SettlementID:        msg.SettlementID,
		FirstTradeTimestamp: msg.FirstTradeTimestamp,
		Solver:              strings.ToLower(msg.Solver),
		ComputedAt:          time.Now().UTC(),
	}

	result, err := calc.ComputeDetailed(ctx, msg.TxHash)
	if err != nil {
		if ctx.Err() != nil {
			return domain.SettlementRecord{}, nil, ctx.Err()
		}
		record.Status = domain.SettlementStatusFailed
		record.ErrorClass = ErrorClass(err)
		record.Error = err.Error()
		slog.WarnContext(ctx, "cowiness failed", "tx_hash", msg.TxHash, "class", record.ErrorClass, "err", err)
		return record, nil, nil
	}

	record.TxHash = result.TxHash
	record.Status = domain.SettlementStatusComputed
	record.BlockNumber = result.BlockNumber
	record.Cowiness = result.CowValue
	record.TotalVolumeInUSD = result.TotalVolumeInUSD
	record.TotalVolumeOutUSD = result.TotalVolumeOutUSD

	volumes := make([]domain.TokenVolume, 0, len(result.VolumeInUSD)+len(result.VolumeOutUSD))
	volumes = appendTokenVolumes(volumes, record, domain.VolumeDirectionIn, result.VolumeInUSD)
	volumes = appendTokenVolumes(volumes, record, domain.VolumeDirectionOut, result.VolumeOutUSD)
	return record, volumes, nil
}

func appendTokenVolumes(dst []domain.TokenVolume, record domain.SettlementRecord, direction domain.VolumeDirection, priced map[string]domain.PricedVolume) []domain.TokenVolume {
	for token, volume := range priced {
		dst = append(dst, domain.TokenVolume{
			TxHash:              record.TxHash,
			FirstTradeTimestamp: record.FirstTradeTimestamp,
			Direction:           direction,
			Token:               token,
			Name:                volume.Token.Name,
			Decimals:            volume.Token.Decimals,
			Amount:              volume.Amount,
			PriceUSD:            volume.Token.PriceUSD,
			USDValue:            volume.USDValue,
		})
	}
	return dst
}
