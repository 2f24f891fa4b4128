package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	rows     []Row
	err      error
	affected int64
	lastReq  SelectRequest
	calls    int
}

func (s *stubExecutor) Select(_ context.Context, req SelectRequest) ([]Row, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if req.Limit > 0 && len(s.rows) > req.Limit {
		return s.rows[:req.Limit], nil
	}
	return s.rows, nil
}

func (s *stubExecutor) Insert(_ context.Context, _ string, record Row) (Row, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := Row{"id": int64(1)}
	for k, v := range record {
		out[k] = v
	}
	return out, nil
}

func (s *stubExecutor) Update(context.Context, string, Row, []Filter) (int64, error) {
	s.calls++
	return s.affected, s.err
}

func (s *stubExecutor) Delete(context.Context, string, []Filter) (int64, error) {
	s.calls++
	return s.affected, s.err
}

func TestSingle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		rows    []Row
		err     error
		wantErr error
	}{
		{"exactly one", []Row{{"id": int64(1)}}, nil, nil},
		{"none", []Row{}, nil, ErrNoRows},
		{"several", []Row{{"id": int64(1)}, {"id": int64(2)}, {"id": int64(3)}}, nil, ErrMultipleRows},
		{"backend failure", nil, errors.New("connection refused"), nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := &stubExecutor{rows: tc.rows, err: tc.err}
			res := NewClient(exec).From("users").Select("*").Eq("email", "a@x.com").Single(ctx)

			assert.Equal(t, 2, exec.lastReq.Limit)
			switch {
			case tc.err != nil:
				require.ErrorIs(t, res.Error, tc.err)
				assert.Nil(t, res.Data)
			case tc.wantErr != nil:
				require.ErrorIs(t, res.Error, tc.wantErr)
				assert.Nil(t, res.Data)
			default:
				require.NoError(t, res.Error)
				assert.Equal(t, int64(1), res.Data["id"])
			}
		})
	}
}

func TestSelect_BuildsRequest(t *testing.T) {
	exec := &stubExecutor{rows: []Row{{"id": int64(1)}, {"id": int64(2)}}}

	res := NewClient(exec).From("notes").
		Select().
		Eq("user_id", 7).
		Order("updated_at", false).
		Execute(context.Background())

	require.NoError(t, res.Error)
	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, SelectRequest{
		Table:   "notes",
		Columns: []string{"*"},
		Filters: []Filter{{Column: "user_id", Value: 7}},
		Orders:  []Order{{Column: "updated_at", Ascending: false}},
	}, exec.lastReq)
}

func TestInvalidIdentifiersNeverReachTheBackend(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{}
	c := NewClient(exec)

	results := []error{
		c.From("notes; DROP TABLE users").Select("*").Execute(ctx).Error,
		c.From("notes").Select("title, password").Execute(ctx).Error,
		c.From("notes").Select("*").Eq("1=1 OR id", 1).Execute(ctx).Error,
		c.From("notes").Select("*").Order("Title", true).Execute(ctx).Error,
		c.From("notes").Insert(Row{"bad col": "x"}).Execute(ctx).Error,
		c.From("notes").Update(Row{"title": "x"}).Eq("id)", 1).Execute(ctx).Error,
		c.From("no-tes").Delete().Eq("id", 1).Execute(ctx).Error,
	}

	for i, err := range results {
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "case %d", i)
	}
	assert.Zero(t, exec.calls)
}

func TestMutationsRequireFilter(t *testing.T) {
	ctx := context.Background()
	exec := &stubExecutor{}
	c := NewClient(exec)

	assert.ErrorIs(t, c.From("notes").Update(Row{"title": "x"}).Execute(ctx).Error, ErrMissingFilter)
	assert.ErrorIs(t, c.From("notes").Delete().Execute(ctx).Error, ErrMissingFilter)
	assert.Zero(t, exec.calls)
}

func TestInsert_EmptyRecord(t *testing.T) {
	res := NewClient(&stubExecutor{}).From("notes").Insert(Row{}).Execute(context.Background())
	assert.ErrorIs(t, res.Error, ErrEmptyRecord)
}

func TestMutation_ReportsAffectedRows(t *testing.T) {
	exec := &stubExecutor{affected: 1}
	res := NewClient(exec).From("notes").Delete().Eq("id", 3).Execute(context.Background())

	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.Count)
	assert.Empty(t, res.Data)
}

func TestDecode(t *testing.T) {
	type user struct {
		ID    int    `json:"id"`
		Email string `json:"email"`
	}

	var u user
	require.NoError(t, Decode(Row{"id": int64(4), "email": "a@x.com", "password": "pw"}, &u))
	assert.Equal(t, user{ID: 4, Email: "a@x.com"}, u)

	var list []user
	require.NoError(t, DecodeAll(nil, &list))
	assert.NotNil(t, list)
	assert.Empty(t, list)

	assert.Error(t, Decode(Row{"id": "not-a-number"}, &u))
}
