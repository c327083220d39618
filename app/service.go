package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// GetRecord reads one record through the cache.
func (a *Application) GetRecord(ctx context.Context, resource, id string) (json.RawMessage, error) {
	return a.Queries.Get(ctx, RecordKey(resource, id), func(ctx context.Context, _ QueryKey) (json.RawMessage, error) {
		return a.Remote.Fetch(ctx, resource, id)
	})
}

// ListRecords reads one page of a resource's list through the cache.
func (a *Application) ListRecords(ctx context.Context, resource string, page Page) (RecordPage, error) {
	key := PageKey(resource, page.Offset, page.Limit)
	raw, err := a.Queries.Get(ctx, key, func(ctx context.Context, _ QueryKey) (json.RawMessage, error) {
		p, err := a.Remote.List(ctx, resource, page)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	})
	if err != nil {
		return RecordPage{}, err
	}
	var p RecordPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return RecordPage{}, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return p, nil
}

// SaveRecord optimistically replaces a record. Every cached page of the
// resource's list goes stale on commit.
func (a *Application) SaveRecord(ctx context.Context, resource, id string, body json.RawMessage, opts ...MutateOption) (json.RawMessage, error) {
	optimistic, err := withID(body, id)
	if err != nil {
		return nil, err
	}
	key := RecordKey(resource, id)
	opts = append([]MutateOption{WithRelatedKeys(ListKey(resource))}, opts...)
	// An upstream that acknowledges a write without a body leaves the
	// stored version unknown; keep the optimistic value until it is refetched.
	unconfirmed := false
	saved, err := a.Mutations.Mutate(ctx, key, optimistic,
		func(ctx context.Context, v json.RawMessage) (json.RawMessage, error) {
			saved, err := a.Remote.Save(ctx, resource, id, v)
			if err == nil && isEmptyDocument(saved) {
				unconfirmed = true
				return v, nil
			}
			return saved, err
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if unconfirmed {
		a.Queries.Invalidate(key)
		log(ctx).Debug("Upstream returned no body for saved record", "key", string(key))
	}
	return saved, nil
}

// CreateRecord saves body under a new id.
func (a *Application) CreateRecord(ctx context.Context, resource string, body json.RawMessage, opts ...MutateOption) (json.RawMessage, error) {
	return a.SaveRecord(ctx, resource, newID(), body, opts...)
}

// DeleteRecord optimistically removes a record.
func (a *Application) DeleteRecord(ctx context.Context, resource, id string, opts ...MutateOption) error {
	opts = append([]MutateOption{WithRelatedKeys(ListKey(resource))}, opts...)
	return a.Mutations.Remove(ctx, RecordKey(resource, id),
		func(ctx context.Context) error {
			return a.Remote.Remove(ctx, resource, id)
		},
		opts...,
	)
}

func isEmptyDocument(doc json.RawMessage) bool {
	trimmed := bytes.TrimSpace(doc)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// withID returns body with its "id" field set, so the optimistic value
// looks like what the server will return.
func withID(body json.RawMessage, id string) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, NewValidationError("record must be a JSON object")
	}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	doc["id"] = idJSON
	return json.Marshal(doc)
}
