package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskline/internal/domain"
)

// Writer appends to the events table. Event writes are best-effort audit
// trail; callers ignore failures rather than failing the task.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType string, taskID int64, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(domain.ISOFormat)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(id,ts,type,task_id,payload_json) VALUES (?,?,?,?,?)`,
		uuid.NewString(), ts, evtType, nullableInt64(taskID), string(data))
	return err
}

// Latest returns the most recent events, newest first.
func (w Writer) Latest(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,task_id,payload_json FROM events`
	var args []any
	if evtType != "" {
		query += ` WHERE type=?`
		args = append(args, evtType)
	}
	// rowid tiebreak keeps same-second events in insertion order.
	query += ` ORDER BY ts DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var taskID sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &taskID, &e.Payload); err != nil {
			return nil, err
		}
		if taskID.Valid {
			id := taskID.Int64
			e.TaskID = &id
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
