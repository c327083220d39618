package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/optimist/config"
	"github.com/sweater-ventures/optimist/db"
)

// --- local test helpers (avoid importing testutil to prevent import cycle) ---

type recordsMockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*recordsMockQuerier)(nil)

func (m *recordsMockQuerier) CountRecords(ctx context.Context, resource string) (int64, error) {
	args := m.Called(ctx, resource)
	return args.Get(0).(int64), args.Error(1)
}

func (m *recordsMockQuerier) DeleteRecord(ctx context.Context, arg db.DeleteRecordParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *recordsMockQuerier) GetRecord(ctx context.Context, arg db.GetRecordParams) (db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Record), args.Error(1)
}

func (m *recordsMockQuerier) ListRecords(ctx context.Context, arg db.ListRecordsParams) ([]db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.Record), args.Error(1)
}

func (m *recordsMockQuerier) UpsertRecord(ctx context.Context, arg db.UpsertRecordParams) (db.Record, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Record), args.Error(1)
}

// memRemote is an in-memory RecordRemote shared by several Applications,
// standing in for the server both tabs talk to.
type memRemote struct {
	mu      sync.Mutex
	records map[string]map[string]json.RawMessage
	order   map[string][]string
	lists   int
	fetches int
	saveErr error
}

var _ RecordRemote = (*memRemote)(nil)

func newMemRemote() *memRemote {
	return &memRemote{
		records: make(map[string]map[string]json.RawMessage),
		order:   make(map[string][]string),
	}
}

func (r *memRemote) put(resource, id, doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[resource] == nil {
		r.records[resource] = make(map[string]json.RawMessage)
	}
	if _, ok := r.records[resource][id]; !ok {
		r.order[resource] = append(r.order[resource], id)
	}
	r.records[resource][id] = json.RawMessage(doc)
}

func (r *memRemote) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

func (r *memRemote) Fetch(_ context.Context, resource, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	doc, ok := r.records[resource][id]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("%s %s not found", resource, id))
	}
	return doc, nil
}

func (r *memRemote) List(_ context.Context, resource string, page Page) (RecordPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	ids := r.order[resource]
	out := RecordPage{Resource: resource, Rows: []json.RawMessage{}, Total: len(ids), Offset: page.Offset, Limit: page.Limit}
	for i := page.Offset; i < len(ids) && i < page.Offset+page.Limit; i++ {
		out.Rows = append(out.Rows, r.records[resource][ids[i]])
	}
	return out, nil
}

func (r *memRemote) Save(_ context.Context, resource, id string, body json.RawMessage) (json.RawMessage, error) {
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	r.put(resource, id, string(body))
	return body, nil
}

func (r *memRemote) Remove(_ context.Context, resource, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[resource][id]; !ok {
		return NewNotFoundError(fmt.Sprintf("%s %s not found", resource, id))
	}
	delete(r.records[resource], id)
	ids := r.order[resource]
	for i, existing := range ids {
		if existing == id {
			r.order[resource] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func newTestConfig() config.AppConfig {
	return config.AppConfig{
		BusDriver:       "memory",
		DedupeSize:      128,
		MutationPolicy:  string(PolicyQueue),
		RowHeight:       38,
		Overscan:        5,
		WindowThreshold: 20,
		PageLimit:       50,
	}
}
