package testutil

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/optimist/app"
)

// MockRemote is a testify mock implementation of app.RecordRemote.
type MockRemote struct {
	mock.Mock
}

var _ app.RecordRemote = (*MockRemote)(nil)

func (m *MockRemote) Fetch(ctx context.Context, resource, id string) (json.RawMessage, error) {
	args := m.Called(ctx, resource, id)
	doc, _ := args.Get(0).(json.RawMessage)
	return doc, args.Error(1)
}

func (m *MockRemote) List(ctx context.Context, resource string, page app.Page) (app.RecordPage, error) {
	args := m.Called(ctx, resource, page)
	return args.Get(0).(app.RecordPage), args.Error(1)
}

func (m *MockRemote) Save(ctx context.Context, resource, id string, body json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, resource, id, body)
	doc, _ := args.Get(0).(json.RawMessage)
	return doc, args.Error(1)
}

func (m *MockRemote) Remove(ctx context.Context, resource, id string) error {
	args := m.Called(ctx, resource, id)
	return args.Error(0)
}
