package agent

import (
	"database/sql"
	"fmt"

	"conductor/internal/store"
)

// Event is a breadcrumb in a run's history, shown in the run detail view.
type Event struct {
	ID        string
	RunID     string
	Kind      string // "started", "completed", "failed", "cancelled", "note"
	Message   string
	CreatedAt string
}

const maxEventsPerRun = 200

// AddEvent appends an event to a run's history, pruning entries beyond the
// per-run cap. Event writes are advisory; a failure is logged and swallowed
// so it can never wedge a state transition.
func (m *Manager) AddEvent(runID, kind, message string) {
	_, err := m.db.Exec(
		`INSERT INTO agent_events (id, run_id, kind, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		store.NewID(), runID, kind, message, store.Now())
	if err != nil {
		m.log.Printf("record event for run %s: %v", runID, err)
		return
	}
	_, err = m.db.Exec(
		`DELETE FROM agent_events WHERE run_id = ? AND id NOT IN (
            SELECT id FROM agent_events WHERE run_id = ? ORDER BY created_at DESC LIMIT ?
         )`, runID, runID, maxEventsPerRun)
	if err != nil {
		m.log.Printf("prune events for run %s: %v", runID, err)
	}
}

// ListEvents returns a run's events oldest first, capped at limit (<=0 means
// the default of 200).
func (m *Manager) ListEvents(runID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = maxEventsPerRun
	}
	rows, err := m.db.Query(
		`SELECT id, run_id, kind, message, created_at FROM agent_events
         WHERE run_id = ? ORDER BY created_at ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var msg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &msg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Message = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}
