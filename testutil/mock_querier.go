package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/optimist/db"
)

// MockQuerier is a testify mock implementation of db.Querier.
type MockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) CountRecords(ctx context.Context, resource string) (int64, error) {
	args := m.Called(ctx, resource)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) DeleteRecord(ctx context.Context, arg db.DeleteRecordParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) GetRecord(ctx context.Context, arg db.GetRecordParams) (db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Record), args.Error(1)
}

func (m *MockQuerier) ListRecords(ctx context.Context, arg db.ListRecordsParams) ([]db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.Record), args.Error(1)
}

func (m *MockQuerier) UpsertRecord(ctx context.Context, arg db.UpsertRecordParams) (db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Record), args.Error(1)
}
