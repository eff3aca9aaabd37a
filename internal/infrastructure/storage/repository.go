package storage

import (
	"context"
	"errors"

	"cowindex/internal/application"
	"cowindex/internal/domain"
)

type SettlementStore interface {
	StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error
	QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error)
	Ping(ctx context.Context) error
}

type VolumeStore interface {
	StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error
	QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error)
	Ping(ctx context.Context) error
}

// Repository routes settlement records to the relational store and token
// volumes to the analytics store.
type Repository struct {
	settlements SettlementStore
	volumes     VolumeStore
}

func NewRepository(settlements SettlementStore, volumes VolumeStore) (*Repository, error) {
	if settlements == nil {
		return nil, errors.New("settlement store is required")
	}
	if volumes == nil {
		return nil, errors.New("volume store is required")
	}
	return &Repository{settlements: settlements, volumes: volumes}, nil
}

func (r *Repository) StoreSettlementRecords(ctx context.Context, records []domain.SettlementRecord) error {
	return r.settlements.StoreSettlementRecords(ctx, records)
}

func (r *Repository) StoreTokenVolumes(ctx context.Context, volumes []domain.TokenVolume) error {
	return r.volumes.StoreTokenVolumes(ctx, volumes)
}

func (r *Repository) QuerySettlements(ctx context.Context, filter application.SettlementQueryFilter) ([]domain.SettlementRecord, error) {
	return r.settlements.QuerySettlements(ctx, filter)
}

func (r *Repository) QueryTokenVolumes(ctx context.Context, filter application.TokenVolumeQueryFilter) ([]domain.TokenVolume, error) {
	return r.volumes.QueryTokenVolumes(ctx, filter)
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.settlements.Ping(ctx); err != nil {
		return err
	}
	return r.volumes.Ping(ctx)
}
