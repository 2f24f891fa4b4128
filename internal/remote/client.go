// Package remote is a small query client for the hosted note store.
//
// Requests are built fluently and executed by an Executor:
//
//	res := client.From("notes").
//		Select("*").
//		Eq("user_id", userID).
//		Order("updated_at", false).
//		Execute(ctx)
//	if res.Error != nil { ... }
//
// Every terminal call returns a result value carrying either data or an error,
// never both. Table and column names are validated; values are always bound
// as parameters.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNoRows            = errors.New("no rows returned")
	ErrMultipleRows      = errors.New("multiple rows returned")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrMissingFilter     = errors.New("update and delete require at least one filter")
	ErrEmptyRecord       = errors.New("record has no columns")
)

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Row is one record keyed by column name.
type Row map[string]any

// Result is the outcome of a select, update or delete. For mutations Count is
// the number of affected rows and Data is empty.
type Result struct {
	Data  []Row
	Count int64
	Error error
}

// SingleResult is the outcome of a request expected to yield exactly one row.
type SingleResult struct {
	Data  Row
	Error error
}

type Filter struct {
	Column string
	Value  any
}

type Order struct {
	Column    string
	Ascending bool
}

type SelectRequest struct {
	Table   string
	Columns []string
	Filters []Filter
	Orders  []Order
	Limit   int
}

// Executor runs validated requests against a backend.
type Executor interface {
	Select(ctx context.Context, req SelectRequest) ([]Row, error)
	Insert(ctx context.Context, table string, record Row) (Row, error)
	Update(ctx context.Context, table string, record Row, filters []Filter) (int64, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
}

type Client struct {
	exec Executor
}

func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

// From starts a request against table.
func (c *Client) From(table string) *Table {
	return &Table{exec: c.exec, name: table}
}

type Table struct {
	exec Executor
	name string
}

func (t *Table) Select(columns ...string) *SelectQuery {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &SelectQuery{exec: t.exec, req: SelectRequest{Table: t.name, Columns: columns}}
}

func (t *Table) Insert(record Row) *InsertQuery {
	return &InsertQuery{exec: t.exec, table: t.name, record: record}
}

func (t *Table) Update(record Row) *MutationQuery {
	return &MutationQuery{exec: t.exec, table: t.name, record: record, update: true}
}

func (t *Table) Delete() *MutationQuery {
	return &MutationQuery{exec: t.exec, table: t.name}
}

type SelectQuery struct {
	exec Executor
	req  SelectRequest
}

// Eq adds an equality filter. Filters are ANDed.
func (q *SelectQuery) Eq(column string, value any) *SelectQuery {
	q.req.Filters = append(q.req.Filters, Filter{Column: column, Value: value})
	return q
}

func (q *SelectQuery) Order(column string, ascending bool) *SelectQuery {
	q.req.Orders = append(q.req.Orders, Order{Column: column, Ascending: ascending})
	return q
}

func (q *SelectQuery) Limit(n int) *SelectQuery {
	q.req.Limit = n
	return q
}

func (q *SelectQuery) Execute(ctx context.Context) Result {
	if err := validateSelect(q.req); err != nil {
		return Result{Error: err}
	}

	rows, err := q.exec.Select(ctx, q.req)
	if err != nil {
		return Result{Error: err}
	}
	return Result{Data: rows, Count: int64(len(rows))}
}

// Single expects exactly one matching row. Zero rows yield ErrNoRows and more
// than one yield ErrMultipleRows.
func (q *SelectQuery) Single(ctx context.Context) SingleResult {
	req := q.req
	req.Limit = 2

	if err := validateSelect(req); err != nil {
		return SingleResult{Error: err}
	}

	rows, err := q.exec.Select(ctx, req)
	if err != nil {
		return SingleResult{Error: err}
	}

	switch len(rows) {
	case 0:
		return SingleResult{Error: ErrNoRows}
	case 1:
		return SingleResult{Data: rows[0]}
	default:
		return SingleResult{Error: ErrMultipleRows}
	}
}

type InsertQuery struct {
	exec   Executor
	table  string
	record Row
}

// Execute inserts the record and returns the stored row, including
// backend-assigned columns such as id.
func (q *InsertQuery) Execute(ctx context.Context) SingleResult {
	if err := validateRecord(q.table, q.record); err != nil {
		return SingleResult{Error: err}
	}

	row, err := q.exec.Insert(ctx, q.table, q.record)
	if err != nil {
		return SingleResult{Error: err}
	}
	return SingleResult{Data: row}
}

type MutationQuery struct {
	exec    Executor
	table   string
	record  Row
	filters []Filter
	update  bool
}

func (q *MutationQuery) Eq(column string, value any) *MutationQuery {
	q.filters = append(q.filters, Filter{Column: column, Value: value})
	return q
}

func (q *MutationQuery) Execute(ctx context.Context) Result {
	if len(q.filters) == 0 {
		return Result{Error: ErrMissingFilter}
	}
	for _, f := range q.filters {
		if err := validateIdent(f.Column); err != nil {
			return Result{Error: err}
		}
	}

	var (
		n   int64
		err error
	)
	if q.update {
		if err := validateRecord(q.table, q.record); err != nil {
			return Result{Error: err}
		}
		n, err = q.exec.Update(ctx, q.table, q.record, q.filters)
	} else {
		if err := validateIdent(q.table); err != nil {
			return Result{Error: err}
		}
		n, err = q.exec.Delete(ctx, q.table, q.filters)
	}
	if err != nil {
		return Result{Error: err}
	}
	return Result{Count: n}
}

func validateIdent(name string) error {
	if !identRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateSelect(req SelectRequest) error {
	if err := validateIdent(req.Table); err != nil {
		return err
	}
	for _, c := range req.Columns {
		if c == "*" {
			continue
		}
		if err := validateIdent(c); err != nil {
			return err
		}
	}
	for _, f := range req.Filters {
		if err := validateIdent(f.Column); err != nil {
			return err
		}
	}
	for _, o := range req.Orders {
		if err := validateIdent(o.Column); err != nil {
			return err
		}
	}
	return nil
}

func validateRecord(table string, record Row) error {
	if err := validateIdent(table); err != nil {
		return err
	}
	if len(record) == 0 {
		return ErrEmptyRecord
	}
	for col := range record {
		if err := validateIdent(col); err != nil {
			return err
		}
	}
	return nil
}
