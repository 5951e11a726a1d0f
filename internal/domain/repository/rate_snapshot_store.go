// Package repository defines the persistence contracts of the domain
package repository

import (
	"context"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/google/uuid"
)

// RateSnapshotStore persists exchange-rate snapshots with "latest per base code" retrieval
type RateSnapshotStore interface {
	// GetLatest returns the snapshot with the greatest SavedAt for the base code,
	// or nil with a nil error when none exists
	GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error)

	// Save appends a new immutable snapshot and returns its store-assigned ID
	Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error)
}

// SnapshotHistory gives read access to the retained snapshot log
type SnapshotHistory interface {
	// GetByID returns a snapshot by its ID, or nil with a nil error when absent
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error)

	// ListHistory returns snapshots of a base code newest first. limit <= 0 returns all.
	ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error)

	// ListBaseCodes returns every base code with at least one snapshot, sorted
	ListBaseCodes(ctx context.Context) ([]string, error)
}

// SnapshotRepository is implemented by every storage backend
type SnapshotRepository interface {
	RateSnapshotStore
	SnapshotHistory

	// Append behaves like Save but returns the stored record
	Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error)

	// Close releases any resources held by the backend
	Close() error
}
