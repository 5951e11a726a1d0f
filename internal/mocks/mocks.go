// Package mocks holds testify mocks for the domain interfaces
package mocks

import (
	"context"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSnapshotRepository mocks the SnapshotRepository interface
type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) GetLatest(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	args := m.Called(ctx, baseCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExchangeRateSnapshot), args.Error(1)
}

func (m *MockSnapshotRepository) Save(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (uuid.UUID, error) {
	args := m.Called(ctx, snapshot)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockSnapshotRepository) Append(ctx context.Context, snapshot entity.ExchangeRateSnapshot) (*entity.ExchangeRateSnapshot, error) {
	args := m.Called(ctx, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExchangeRateSnapshot), args.Error(1)
}

func (m *MockSnapshotRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExchangeRateSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExchangeRateSnapshot), args.Error(1)
}

func (m *MockSnapshotRepository) ListHistory(ctx context.Context, baseCode string, limit int) ([]entity.ExchangeRateSnapshot, error) {
	args := m.Called(ctx, baseCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.ExchangeRateSnapshot), args.Error(1)
}

func (m *MockSnapshotRepository) ListBaseCodes(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSnapshotRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRateProvider mocks the RateProvider interface
type MockRateProvider struct {
	mock.Mock
}

func (m *MockRateProvider) FetchLatestRates(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	args := m.Called(ctx, baseCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExchangeRateSnapshot), args.Error(1)
}

// MockLatestCache mocks the LatestCache interface
type MockLatestCache struct {
	mock.Mock
}

func (m *MockLatestCache) Get(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, bool, error) {
	args := m.Called(ctx, baseCode)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*entity.ExchangeRateSnapshot), args.Bool(1), args.Error(2)
}

func (m *MockLatestCache) Put(ctx context.Context, snapshot entity.ExchangeRateSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockLatestCache) Invalidate(ctx context.Context, baseCode string) error {
	args := m.Called(ctx, baseCode)
	return args.Error(0)
}

// MockGroupResolver mocks the GroupResolver interface
type MockGroupResolver struct {
	mock.Mock
}

func (m *MockGroupResolver) ResolveGroupForEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

// MockLogger mocks the logger interface
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Info(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Warn(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Error(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Fatal(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

// WithField returns the mock itself so calls on derived loggers stay observable
func (m *MockLogger) WithField(key string, value interface{}) logger.Logger {
	return m
}

// WithFields returns the mock itself so calls on derived loggers stay observable
func (m *MockLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return m
}
