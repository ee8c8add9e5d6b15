// Package telemetry writes the best-effort activity log. It shares no
// transaction with the ledger: a lost event never touches economy state.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Craverse/craveverse/internal/metrics"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Event struct {
	UserID   string
	Action   string
	Metadata map[string]any
	At       time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// SQLRecorder appends events to activity_log through its own database/sql handle.
type SQLRecorder struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLRecorder(db *sql.DB, timeout time.Duration) *SQLRecorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SQLRecorder{db: db, timeout: timeout}
}

func (r *SQLRecorder) Record(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "telemetry: encode metadata")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO activity_log (user_id, action, metadata, created_at) VALUES ($1, $2, $3, $4)`,
		ev.UserID, ev.Action, raw, at.UTC())
	return errors.Wrap(err, "telemetry: insert activity_log")
}

// Emit records ev detached from the caller's cancellation. Failures are
// logged and counted, never returned.
func Emit(ctx context.Context, r Recorder, log logrus.FieldLogger, ev Event) {
	if r == nil {
		return
	}
	if err := r.Record(context.WithoutCancel(ctx), ev); err != nil {
		metrics.RecordTelemetryFailure()
		if log != nil {
			log.WithError(err).WithFields(logrus.Fields{"user_id": ev.UserID, "action": ev.Action}).Warn("activity log write failed")
		}
	}
}
