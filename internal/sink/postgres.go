package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adresearch/adtrial/internal/experiment"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	id BIGSERIAL PRIMARY KEY,
	participant_id TEXT NOT NULL,
	consent BOOLEAN NOT NULL,
	age_group TEXT NOT NULL,
	gender TEXT NOT NULL,
	assigned_ad_code TEXT NOT NULL,
	assigned_ad_url TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	watch_seconds INTEGER,
	clicked_more_info BOOLEAN NOT NULL,
	more_info_url TEXT NOT NULL,
	responses JSONB NOT NULL,
	completion_code TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresSink stores submissions in PostgreSQL through a pgx pool.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create submissions table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Close() { s.pool.Close() }

func (s *PostgresSink) Submit(ctx context.Context, p *experiment.SubmissionPayload) (string, error) {
	responses, err := json.Marshal(p.Responses)
	if err != nil {
		return "", fmt.Errorf("encode responses: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (
			participant_id, consent, age_group, gender,
			assigned_ad_code, assigned_ad_url, start_time, end_time,
			watch_seconds, clicked_more_info, more_info_url, responses,
			completion_code, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ParticipantID, p.Consent, p.AgeGroup, p.Gender,
		p.AssignedAdCode, p.AssignedAdURL, p.StartTime, p.EndTime,
		p.WatchSeconds, p.ClickedMoreInfo, p.MoreInfoURL, responses,
		p.CompletionCode, p.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}
	return "", nil
}

func (s *PostgresSink) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
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
			rec       Record
			responses []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Payload.ParticipantID, &rec.Payload.Consent,
			&rec.Payload.AgeGroup, &rec.Payload.Gender,
			&rec.Payload.AssignedAdCode, &rec.Payload.AssignedAdURL,
			&rec.Payload.StartTime, &rec.Payload.EndTime,
			&rec.Payload.WatchSeconds, &rec.Payload.ClickedMoreInfo,
			&rec.Payload.MoreInfoURL, &responses, &rec.Payload.CompletionCode,
			&rec.Payload.Timestamp, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(responses, &rec.Payload.Responses); err != nil {
			return nil, fmt.Errorf("decode responses for submission %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var (
	_ experiment.SubmissionSink = (*PostgresSink)(nil)
	_ Lister                    = (*PostgresSink)(nil)
)
