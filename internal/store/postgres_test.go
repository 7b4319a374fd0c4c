package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/pkg/models"
)

type preparedMocks struct {
	createSession *sqlmock.ExpectedPrepare
	getSession    *sqlmock.ExpectedPrepare
	appendMessage *sqlmock.ExpectedPrepare
	lastMessages  *sqlmock.ExpectedPrepare
	logToolExec   *sqlmock.ExpectedPrepare
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *preparedMocks) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	prep := &preparedMocks{
		createSession: mock.ExpectPrepare("INSERT INTO sessions"),
		getSession:    mock.ExpectPrepare("FROM sessions WHERE id"),
		appendMessage: mock.ExpectPrepare("INSERT INTO messages"),
		lastMessages:  mock.ExpectPrepare("FROM messages WHERE session_id"),
		logToolExec:   mock.ExpectPrepare("INSERT INTO tool_executions"),
	}
	store, err := NewPostgresStoreFromDB(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store, mock, prep
}

func sessionColumns() []string {
	return []string{"id", "user_id", "title", "status", "message_count", "unread_count", "metadata", "created_at", "last_activity_at"}
}

func TestPostgresCreateSession(t *testing.T) {
	store, mock, prep := newMockStore(t)
	now := time.Now()

	prep.createSession.ExpectQuery().
		WithArgs("abc123", "u1", "Pipeline review").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("abc123", "u1", "Pipeline review", "active", 0, 0, []byte(`{}`), now, now))

	session, err := store.CreateSession(context.Background(), "abc123", "u1", "Pipeline review")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "abc123" || session.Status != models.SessionActive {
		t.Errorf("unexpected session: %+v", session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresGetSessionNotFound(t *testing.T) {
	store, mock, prep := newMockStore(t)

	prep.getSession.ExpectQuery().
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresAppendMessage(t *testing.T) {
	store, mock, prep := newMockStore(t)
	now := time.Now()

	prep.appendMessage.ExpectQuery().
		WithArgs("abc123", "user", "hello", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(41), now))

	msg, err := store.AppendMessage(context.Background(), "abc123", models.MessageUser, "hello", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID != 41 || msg.Type != models.MessageUser {
		t.Errorf("unexpected message: %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresAppendMessageRejectsBadType(t *testing.T) {
	store, _, _ := newMockStore(t)

	_, err := store.AppendMessage(context.Background(), "abc123", models.MessageType("bot"), "x", nil)
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPostgresUpdateSessionMetadataMerge(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE sessions SET metadata = metadata").
		WithArgs(sqlmock.AnyArg(), "abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateSession(context.Background(), "abc123", SessionPatch{
		Metadata: map[string]any{"agent_lock": "technical"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresUpdateSessionMissingRow(t *testing.T) {
	store, mock, _ := newMockStore(t)

	title := "renamed"
	mock.ExpectExec("UPDATE sessions SET").
		WithArgs(title, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSession(context.Background(), "missing", SessionPatch{Title: &title})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresHardDeleteMissingRow(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.HardDeleteSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateToolExecutionPendingGuard(t *testing.T) {
	store, mock, _ := newMockStore(t)

	patch := models.ToolExecutionPatch{Status: models.ToolExecSuccess, DurationMs: 12}

	mock.ExpectExec("UPDATE tool_executions").
		WithArgs("success", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(12), "", int64(0), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.UpdateToolExecution(context.Background(), "exec-1", patch); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// The pending guard in the WHERE clause makes a second transition a no-op.
	mock.ExpectExec("UPDATE tool_executions").
		WithArgs("success", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(12), "", int64(0), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.UpdateToolExecution(context.Background(), "exec-1", patch); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeat transition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresUpdateToolExecutionRejectsPendingStatus(t *testing.T) {
	store, _, _ := newMockStore(t)

	err := store.UpdateToolExecution(context.Background(), "exec-1", models.ToolExecutionPatch{
		Status: models.ToolExecPending,
	})
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPostgresReadLastMessagesAscending(t *testing.T) {
	store, mock, prep := newMockStore(t)
	now := time.Now()

	// The query returns newest first; the store flips to ascending.
	prep.lastMessages.ExpectQuery().
		WithArgs("abc123", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "type", "content", "metadata", "created_at"}).
			AddRow(int64(9), "abc123", "assistant", "c", []byte(`{}`), now).
			AddRow(int64(8), "abc123", "user", "b", []byte(`{}`), now.Add(-time.Second)).
			AddRow(int64(7), "abc123", "user", "a", []byte(`{}`), now.Add(-2*time.Second)))

	msgs, err := store.ReadLastMessages(context.Background(), "abc123", 3)
	if err != nil {
		t.Fatalf("read last: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != 7 || msgs[2].ID != 9 {
		t.Errorf("expected ascending ids [7 8 9], got %+v", msgs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresMarkAbandonedExecutions(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE tool_executions").
		WithArgs(models.AbandonedReason).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkAbandonedExecutions(context.Background())
	if err != nil {
		t.Fatalf("mark abandoned: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}
