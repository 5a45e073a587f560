package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adresearch/adtrial/internal/experiment"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	participant_id TEXT NOT NULL,
	consent INTEGER NOT NULL,
	age_group TEXT NOT NULL,
	gender TEXT NOT NULL,
	assigned_ad_code TEXT NOT NULL,
	assigned_ad_url TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	watch_seconds INTEGER,
	clicked_more_info INTEGER NOT NULL,
	more_info_url TEXT NOT NULL,
	responses TEXT NOT NULL,
	completion_code TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	received_at TEXT NOT NULL
)`

// SQLiteSink stores submissions in a local SQLite database.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create submissions table: %w", err)
	}
	return &SQLiteSink{db: db, now: time.Now}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Submit(ctx context.Context, p *experiment.SubmissionPayload) (string, error) {
	responses, err := json.Marshal(p.Responses)
	if err != nil {
		return "", fmt.Errorf("encode responses: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			participant_id, consent, age_group, gender,
			assigned_ad_code, assigned_ad_url, start_time, end_time,
			watch_seconds, clicked_more_info, more_info_url, responses,
			completion_code, submitted_at, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ParticipantID, boolToInt(p.Consent), p.AgeGroup, p.Gender,
		p.AssignedAdCode, p.AssignedAdURL,
		p.StartTime.UTC().Format(time.RFC3339Nano),
		p.EndTime.UTC().Format(time.RFC3339Nano),
		nullableInt(p.WatchSeconds), boolToInt(p.ClickedMoreInfo), p.MoreInfoURL,
		string(responses), p.CompletionCode,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}
	return "", nil
}

func (s *SQLiteSink) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_id, consent, age_group, gender,
			assigned_ad_code, assigned_ad_url, start_time, end_time,
			watch_seconds, clicked_more_info, more_info_url, responses,
			completion_code, submitted_at, received_at
		FROM submissions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec              Record
			consent, clicked int64
			start, end       string
			watch            sql.NullInt64
			responses        string
			submitted, recvd string
		)
		if err := rows.Scan(&rec.ID, &rec.Payload.ParticipantID, &consent,
			&rec.Payload.AgeGroup, &rec.Payload.Gender,
			&rec.Payload.AssignedAdCode, &rec.Payload.AssignedAdURL,
			&start, &end, &watch, &clicked, &rec.Payload.MoreInfoURL,
			&responses, &rec.Payload.CompletionCode, &submitted, &recvd); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.Payload.Consent = consent != 0
		rec.Payload.ClickedMoreInfo = clicked != 0
		if watch.Valid {
			v := int(watch.Int64)
			rec.Payload.WatchSeconds = &v
		}
		rec.Payload.StartTime = parseStoredTime(start)
		rec.Payload.EndTime = parseStoredTime(end)
		rec.Payload.Timestamp = parseStoredTime(submitted)
		rec.ReceivedAt = parseStoredTime(recvd)
		if err := json.Unmarshal([]byte(responses), &rec.Payload.Responses); err != nil {
			return nil, fmt.Errorf("decode responses for submission %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var (
	_ experiment.SubmissionSink = (*SQLiteSink)(nil)
	_ Lister                    = (*SQLiteSink)(nil)
)
