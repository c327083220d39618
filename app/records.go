package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sweater-ventures/optimist/db"
)

// Page selects a slice of a resource's list.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// MaxPageOffset is the largest offset the records table can be paged to.
const MaxPageOffset = math.MaxInt32

// Validate rejects offsets and limits that do not fit the list query.
func (p Page) Validate() error {
	var fields []FieldError
	if p.Offset < 0 || p.Offset > MaxPageOffset {
		fields = append(fields, FieldError{Field: "offset", Reason: fmt.Sprintf("must be between 0 and %d", MaxPageOffset)})
	}
	if p.Limit < 0 || p.Limit > math.MaxInt32 {
		fields = append(fields, FieldError{Field: "limit", Reason: fmt.Sprintf("must be between 0 and %d", math.MaxInt32)})
	}
	if len(fields) > 0 {
		return NewValidationError("invalid page", fields...)
	}
	return nil
}

// RecordPage is one page of a resource's list with the total row count.
type RecordPage struct {
	Resource string            `json:"resource"`
	Rows     []json.RawMessage `json:"rows"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

// RecordRemote is the server of record behind the cache. Errors are
// returned as *RemoteError where the kind is known.
type RecordRemote interface {
	Fetch(ctx context.Context, resource, id string) (json.RawMessage, error)
	List(ctx context.Context, resource string, page Page) (RecordPage, error)
	// Save creates or replaces a record and returns the stored version.
	Save(ctx context.Context, resource, id string, body json.RawMessage) (json.RawMessage, error)
	Remove(ctx context.Context, resource, id string) error
}

// PostgresRemote keeps records in the local records table.
type PostgresRemote struct {
	queries   db.Querier
	validator *Validator
}

var _ RecordRemote = (*PostgresRemote)(nil)

func NewPostgresRemote(queries db.Querier, validator *Validator) *PostgresRemote {
	return &PostgresRemote{queries: queries, validator: validator}
}

func (r *PostgresRemote) Fetch(ctx context.Context, resource, id string) (json.RawMessage, error) {
	rec, err := r.queries.GetRecord(ctx, db.GetRecordParams{Resource: resource, ID: id})
	if err != nil {
		return nil, pgError(err, resource, id)
	}
	return RecordDocument(rec)
}

func (r *PostgresRemote) List(ctx context.Context, resource string, page Page) (RecordPage, error) {
	if err := page.Validate(); err != nil {
		return RecordPage{}, err
	}
	total, err := r.queries.CountRecords(ctx, resource)
	if err != nil {
		return RecordPage{}, fmt.Errorf("counting %s: %w", resource, err)
	}
	recs, err := r.queries.ListRecords(ctx, db.ListRecordsParams{
		Resource: resource,
		Limit:    int32(page.Limit),
		Offset:   int32(page.Offset),
	})
	if err != nil {
		return RecordPage{}, fmt.Errorf("listing %s: %w", resource, err)
	}
	out := RecordPage{
		Resource: resource,
		Rows:     make([]json.RawMessage, 0, len(recs)),
		Total:    int(total),
		Offset:   page.Offset,
		Limit:    page.Limit,
	}
	for _, rec := range recs {
		doc, err := RecordDocument(rec)
		if err != nil {
			return RecordPage{}, err
		}
		out.Rows = append(out.Rows, doc)
	}
	return out, nil
}

func (r *PostgresRemote) Save(ctx context.Context, resource, id string, body json.RawMessage) (json.RawMessage, error) {
	data, err := stripServerFields(body)
	if err != nil {
		return nil, err
	}
	if r.validator != nil {
		if err := r.validator.Validate(resource, data); err != nil {
			return nil, err
		}
	}
	rec, err := r.queries.UpsertRecord(ctx, db.UpsertRecordParams{Resource: resource, ID: id, Data: data})
	if err != nil {
		return nil, pgError(err, resource, id)
	}
	return RecordDocument(rec)
}

func (r *PostgresRemote) Remove(ctx context.Context, resource, id string) error {
	n, err := r.queries.DeleteRecord(ctx, db.DeleteRecordParams{Resource: resource, ID: id})
	if err != nil {
		return pgError(err, resource, id)
	}
	if n == 0 {
		return NewNotFoundError(fmt.Sprintf("%s %s not found", resource, id))
	}
	return nil
}

// RecordDocument renders a stored record as the JSON object clients see:
// its data with the id and version fields set by the server.
func RecordDocument(rec db.Record) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, &doc); err != nil {
			return nil, fmt.Errorf("decoding %s %s: %w", rec.Resource, rec.ID, err)
		}
	}
	doc["id"] = rec.ID
	doc["version"] = rec.Version
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %s: %w", rec.Resource, rec.ID, err)
	}
	return out, nil
}

func stripServerFields(body json.RawMessage) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, NewValidationError("record must be a JSON object")
	}
	delete(doc, "id")
	delete(doc, "version")
	return json.Marshal(doc)
}

func pgError(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFoundError(fmt.Sprintf("%s %s not found", resource, id))
	}
	var pgErr *pgconn.PgError
	// class 22 is data exception
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "22" {
		return &RemoteError{Kind: KindValidation, Message: pgErr.Message, Err: err}
	}
	return fmt.Errorf("%s %s: %w", resource, id, err)
}
