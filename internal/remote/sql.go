package remote

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/amirk1998/quicknotes/internal/database"
)

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SQLExecutor executes requests over database/sql.
type SQLExecutor struct {
	db      *sql.DB
	dialect Dialect
	tm      *database.TransactionManager
}

func NewSQLExecutor(db *sql.DB, dialect Dialect) *SQLExecutor {
	return &SQLExecutor{
		db:      db,
		dialect: dialect,
		tm:      database.NewTransactionManager(db),
	}
}

func (e *SQLExecutor) Select(ctx context.Context, req SelectRequest) ([]Row, error) {
	query, args := buildSelect(e.dialect, req)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", req.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", req.Table, err)
	}
	return out, nil
}

func (e *SQLExecutor) Insert(ctx context.Context, table string, record Row) (Row, error) {
	query, args := buildInsert(e.dialect, table, record)

	if e.dialect == DialectPostgres {
		return e.insertReturning(ctx, table, query+" RETURNING *", args)
	}

	// SQLCipher's bundled SQLite has no RETURNING; read the row back by rowid
	// inside the same transaction.
	var inserted Row
	err := e.tm.Execute(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE rowid = ?`, quoteIdent(table)), id)
		if err != nil {
			return err
		}
		defer rows.Close()

		out, err := scanRows(rows)
		if err != nil {
			return err
		}
		if len(out) != 1 {
			return fmt.Errorf("inserted row %d not found", id)
		}
		inserted = out[0]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return inserted, nil
}

func (e *SQLExecutor) insertReturning(ctx context.Context, table, query string, args []any) (Row, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("insert into %s: expected one returned row, got %d", table, len(out))
	}
	return out[0], nil
}

func (e *SQLExecutor) Update(ctx context.Context, table string, record Row, filters []Filter) (int64, error) {
	query, args := buildUpdate(e.dialect, table, record, filters)
	return e.exec(ctx, "update "+table, query, args)
}

func (e *SQLExecutor) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	query, args := buildDelete(e.dialect, table, filters)
	return e.exec(ctx, "delete from "+table, query, args)
}

func (e *SQLExecutor) exec(ctx context.Context, op, query string, args []any) (int64, error) {
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func quoteIdent(name string) string {
	if name == "*" {
		return name
	}
	return `"` + name + `"`
}

func sortedColumns(record Row) []string {
	cols := make([]string, 0, len(record))
	for c := range record {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func buildWhere(d Dialect, filters []Filter, args []any) (string, []any) {
	if len(filters) == 0 {
		return "", args
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		args = append(args, f.Value)
		parts = append(parts, quoteIdent(f.Column)+" = "+d.placeholder(len(args)))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func buildSelect(d Dialect, req SelectRequest) (string, []any) {
	cols := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = quoteIdent(c)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(req.Table))

	where, args := buildWhere(d, req.Filters, nil)
	sb.WriteString(where)

	if len(req.Orders) > 0 {
		orders := make([]string, len(req.Orders))
		for i, o := range req.Orders {
			dir := "DESC"
			if o.Ascending {
				dir = "ASC"
			}
			orders[i] = quoteIdent(o.Column) + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orders, ", "))
	}

	if req.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(req.Limit))
	}

	return sb.String(), args
}

func buildInsert(d Dialect, table string, record Row) (string, []any) {
	cols := sortedColumns(record)
	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		holders[i] = d.placeholder(i + 1)
		args[i] = record[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(holders, ", "))
	return query, args
}

func buildUpdate(d Dialect, table string, record Row, filters []Filter) (string, []any) {
	cols := sortedColumns(record)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for i, c := range cols {
		args = append(args, record[c])
		sets[i] = quoteIdent(c) + " = " + d.placeholder(len(args))
	}

	where, args := buildWhere(d, filters, args)
	return fmt.Sprintf("UPDATE %s SET %s%s", quoteIdent(table), strings.Join(sets, ", "), where), args
}

func buildDelete(d Dialect, table string, filters []Filter) (string, []any) {
	where, args := buildWhere(d, filters, nil)
	return "DELETE FROM " + quoteIdent(table) + where, args
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			// SQLite drivers may hand TEXT back as []byte, which would
			// otherwise encode as base64.
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
