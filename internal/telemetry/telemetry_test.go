package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestSQLRecorderInsertsEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO activity_log").
		WithArgs("u1", "level_skip_used", []byte(`{"level_id":"lvl-5"}`), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := NewSQLRecorder(db, time.Second)
	err = rec.Record(context.Background(), Event{UserID: "u1", Action: "level_skip_used", Metadata: map[string]any{"level_id": "lvl-5"}, At: at})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEmitSwallowsFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(".*").WillReturnError(errors.New("relation activity_log does not exist"))

	log, hook := test.NewNullLogger()
	Emit(context.Background(), NewSQLRecorder(db, time.Second), log, Event{UserID: "u1", Action: "purchase"})

	assert.NoError(t, mock.ExpectationsWereMet())
	if assert.Len(t, hook.Entries, 1) {
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Equal(t, "u1", hook.LastEntry().Data["user_id"])
	}
}

func TestEmitIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got context.Context
	Emit(ctx, recorderFunc(func(ctx context.Context, _ Event) error {
		got = ctx
		return nil
	}), nil, Event{})
	assert.NoError(t, got.Err())
}

type recorderFunc func(context.Context, Event) error

func (f recorderFunc) Record(ctx context.Context, ev Event) error { return f(ctx, ev) }
