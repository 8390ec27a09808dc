package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/njoerd114/watchsync/internal/model"
)

func setupMock(t *testing.T, opts ...Option) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return New(db, opts...), mock
}

func itemKey(it model.Item) string { return it.Key().String() }

const (
	selectPageSQL = `SELECT payload FROM collection_items`
	insertSQL     = `INSERT INTO collection_items (user_id, collection, item_key, payload)`
	deleteSQL     = `DELETE FROM collection_items WHERE user_id = $1 AND collection = $2 AND item_key = $3`
)

func TestSelectPage_DecodesPayloads(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "favorites", itemKey)

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow([]byte(`{"id":603,"kind":"movie","title":"The Matrix"}`)).
		AddRow([]byte(`{"id":1399,"kind":"tv","title":"Game of Thrones"}`))
	mock.ExpectQuery(regexp.QuoteMeta(selectPageSQL)).
		WithArgs("user-1", "favorites", 50, 100).
		WillReturnRows(rows)

	got, err := table.SelectPage(context.Background(), "user-1", 100, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Key() != (model.Key{ID: 603, Kind: model.KindMovie}) || got[1].Title != "Game of Thrones" {
		t.Errorf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSelectPage_BadPayloadIsPermanent(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "favorites", itemKey)

	mock.ExpectQuery(regexp.QuoteMeta(selectPageSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{not json`)))

	_, err := table.SelectPage(context.Background(), "user-1", 0, 50)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, want true", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("decode failure must not be retried: %v", err)
	}
}

func TestInsertOne_RetriesTransientFailure(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "watchlist", itemKey)
	item := model.Item{ID: 27205, Kind: model.KindMovie, Title: "Inception"}

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("user-1", "watchlist", "movie:27205", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("user-1", "watchlist", "movie:27205", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := table.InsertOne(context.Background(), "user-1", item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertOne_AllAttemptsFail(t *testing.T) {
	c, mock := setupMock(t, WithMaxAttempts(3))
	table := NewTable(c, "watchlist", itemKey)
	sentinel := errors.New("network unreachable")

	for range 3 {
		mock.ExpectExec(regexp.QuoteMeta(insertSQL)).WillReturnError(sentinel)
	}

	err := table.InsertOne(context.Background(), "user-1", model.Item{ID: 1, Kind: model.KindMovie})
	if !errors.Is(err, sentinel) {
		t.Fatalf("error chain does not contain sentinel: %v", err)
	}
	if IsPermanent(err) {
		t.Error("network failure classified as permanent")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertOne_ConstraintViolationNotRetried(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "watched", itemKey)

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WillReturnError(&pq.Error{Code: "23502", Message: "null value in column"})

	err := table.InsertOne(context.Background(), "user-1", model.Item{ID: 1, Kind: model.KindMovie})
	if !IsPermanent(err) {
		t.Fatalf("IsPermanent(%v) = false, want true", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertMany_SingleTransaction(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "favorites", itemKey)
	items := []model.Item{
		{ID: 1, Kind: model.KindMovie},
		{ID: 2, Kind: model.KindShow},
	}

	mock.ExpectBegin()
	for _, it := range items {
		mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
			WithArgs("user-1", "favorites", it.Key().String(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := table.InsertMany(context.Background(), "user-1", items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertMany_RollsBackOnFailure(t *testing.T) {
	c, mock := setupMock(t, WithMaxAttempts(1))
	table := NewTable(c, "favorites", itemKey)
	items := []model.Item{{ID: 1, Kind: model.KindMovie}, {ID: 2, Kind: model.KindMovie}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).WillReturnError(fmt.Errorf("broken pipe"))
	mock.ExpectRollback()

	if err := table.InsertMany(context.Background(), "user-1", items); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertMany_EmptyIsNoop(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "favorites", itemKey)
	if err := table.InsertMany(context.Background(), "user-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database activity: %v", err)
	}
}

func TestUpsertOne_ReplacesPayload(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "lists", func(l model.CustomList) string { return l.ID })

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (user_id, collection, item_key) DO UPDATE SET payload = EXCLUDED.payload`)).
		WithArgs("user-1", "lists", "list-a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := table.UpsertOne(context.Background(), "user-1", model.CustomList{ID: "list-a", Name: "Noir"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteWhere(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "favorites", itemKey)

	mock.ExpectExec(regexp.QuoteMeta(deleteSQL)).
		WithArgs("user-1", "favorites", "movie:603").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := table.DeleteWhere(context.Background(), "user-1", "movie:603"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCount(t *testing.T) {
	c, mock := setupMock(t)
	table := NewTable(c, "watched", itemKey)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM collection_items WHERE user_id = $1 AND collection = $2`)).
		WithArgs("user-1", "watched").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(130))

	n, err := table.Count(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 130 {
		t.Errorf("Count = %d, want 130", n)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	c, _ := setupMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := c.do(ctx, "noop", func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls > 1 {
		t.Errorf("called %d times after cancellation, want at most 1", calls)
	}
}
