package calls

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-telephony/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists call records in the call_records table.
// The upsert enforces the record invariants atomically so concurrent
// webhook deliveries for one call cannot regress it.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// schemaLockID serializes EnsureSchema across processes starting together.
const schemaLockID = 7310001

// EnsureSchema creates the table, indexes and helper function if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("calls: ensure schema: %w", err)
	}
	return nil
}

const recordColumns = `
call_id, party_id, direction, from_number, to_number, caller_name,
start_time, end_time, duration, result, status,
recording_id, recording_url, recording_fetch_attempts,
transcript, ai_summary, ai_score, highlights, call_notes,
insights_status, insights_fetch_attempts, insights_last_fetch,
raw_payload, created_at, updated_at`

const upsertSQL = `
INSERT INTO call_records (` + recordColumns + `)
VALUES (
	$1, $2, $3, $4, $5, $6,
	COALESCE($7::timestamptz, $8::timestamptz), $9, COALESCE($10::integer, 0), $11, COALESCE($12::text, 'ringing'),
	$13, $14, $15::integer,
	$16, $17, $18, $19, $20,
	$21, $22::integer, $23,
	$24, $25, $25
)
ON CONFLICT (call_id) DO UPDATE SET
	party_id = COALESCE(EXCLUDED.party_id, call_records.party_id),
	direction = CASE
		WHEN call_records.status = 'ended' THEN call_records.direction
		ELSE COALESCE(EXCLUDED.direction, call_records.direction)
	END,
	from_number = COALESCE(EXCLUDED.from_number, call_records.from_number),
	to_number = COALESCE(EXCLUDED.to_number, call_records.to_number),
	caller_name = COALESCE(EXCLUDED.caller_name, call_records.caller_name),
	start_time = CASE
		WHEN call_records.status = 'ended' THEN call_records.start_time
		WHEN $7::timestamptz IS NOT NULL THEN $7::timestamptz
		ELSE COALESCE(call_records.start_time, $8::timestamptz)
	END,
	end_time = COALESCE(EXCLUDED.end_time, call_records.end_time),
	duration = COALESCE($10::integer, call_records.duration),
	result = COALESCE(EXCLUDED.result, call_records.result),
	status = CASE
		WHEN $12::text IS NULL THEN call_records.status
		WHEN call_status_rank($12::text) >= call_status_rank(call_records.status) THEN $12::text
		ELSE call_records.status
	END,
	recording_id = COALESCE(EXCLUDED.recording_id, call_records.recording_id),
	recording_url = COALESCE(EXCLUDED.recording_url, call_records.recording_url),
	recording_fetch_attempts = call_records.recording_fetch_attempts + $15::integer,
	transcript = COALESCE(EXCLUDED.transcript, call_records.transcript),
	ai_summary = COALESCE(EXCLUDED.ai_summary, call_records.ai_summary),
	ai_score = CASE WHEN EXCLUDED.transcript IS NOT NULL THEN EXCLUDED.ai_score ELSE call_records.ai_score END,
	highlights = COALESCE(EXCLUDED.highlights, call_records.highlights),
	call_notes = COALESCE(EXCLUDED.call_notes, call_records.call_notes),
	insights_status = COALESCE(EXCLUDED.insights_status, call_records.insights_status),
	insights_fetch_attempts = call_records.insights_fetch_attempts + $22::integer,
	insights_last_fetch = COALESCE(EXCLUDED.insights_last_fetch, call_records.insights_last_fetch),
	raw_payload = COALESCE(EXCLUDED.raw_payload, call_records.raw_payload),
	updated_at = EXCLUDED.updated_at
RETURNING ` + recordColumns

func (s *PostgresStore) UpsertByCallID(ctx context.Context, callID string, u Update) (CallRecord, error) {
	if callID == "" {
		return CallRecord{}, ErrInvalidCallID
	}
	now := s.clock().UTC()

	var (
		transcript, summary, notes any
		score                      any
		highlights                 any
	)
	if in := u.Insights; in != nil {
		transcript, summary, notes = in.Transcript, in.Summary, in.CallNotes
		if in.Score != nil {
			score = *in.Score
		}
		h, err := json.Marshal(nonNil(in.Highlights))
		if err != nil {
			return CallRecord{}, fmt.Errorf("calls: encode highlights: %w", err)
		}
		highlights = h
	}

	var direction any
	if u.Direction != nil && *u.Direction != "" {
		direction = string(*u.Direction)
	}
	var status any
	if u.Status != nil {
		status = string(*u.Status)
	}
	var insightsStatus any
	if u.InsightsStatus != nil {
		insightsStatus = string(*u.InsightsStatus)
	}
	var raw any
	if len(u.RawPayload) > 0 {
		raw = []byte(u.RawPayload)
	}
	var partyID any
	if u.PartyID != nil && *u.PartyID != "" {
		partyID = *u.PartyID
	}

	row := s.db.QueryRowContext(ctx, upsertSQL,
		callID, partyID, direction, str(u.FromNumber), str(u.ToNumber), str(u.CallerName),
		ts(u.StartTime), ts(u.DefaultStartTime), ts(u.EndTime), intp(u.Duration), str(u.Result), status,
		str(u.RecordingID), str(u.RecordingURL), boolInt(u.IncRecordingFetchAttempts),
		transcript, summary, score, highlights, notes,
		insightsStatus, boolInt(u.IncInsightsFetchAttempts), ts(u.InsightsLastFetch),
		raw, now,
	)
	r, err := scanRecord(row)
	if err != nil {
		return CallRecord{}, fmt.Errorf("calls: upsert %s: %w", callID, err)
	}
	return r, nil
}

func (s *PostgresStore) FindByCallID(ctx context.Context, callID string) (CallRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM call_records WHERE call_id = $1`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return r, nil
}

func (s *PostgresStore) FindEndedWithoutRecording(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error) {
	const q = `SELECT ` + recordColumns + `
FROM call_records
WHERE status = 'ended' AND recording_id IS NULL AND recording_fetch_attempts < $1
ORDER BY start_time DESC NULLS LAST, created_at DESC
LIMIT $2`
	return s.query(ctx, s.db, q, maxAttempts, limit)
}

func (s *PostgresStore) FindPendingInsights(ctx context.Context, limit, maxAttempts int) ([]CallRecord, error) {
	const q = `SELECT ` + recordColumns + `
FROM call_records
WHERE status = 'ended'
  AND recording_id IS NOT NULL
  AND (insights_status IS NULL OR insights_status IN ('pending', 'processing'))
  AND insights_fetch_attempts < $1
ORDER BY start_time DESC NULLS LAST, created_at DESC
LIMIT $2`
	return s.query(ctx, s.db, q, maxAttempts, limit)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]CallRecord, error) {
	const q = `SELECT ` + recordColumns + `
FROM call_records
WHERE ($1::timestamptz IS NULL OR start_time >= $1::timestamptz)
  AND ($2::timestamptz IS NULL OR start_time < $2::timestamptz)
  AND ($3::text IS NULL OR direction = $3::text)
  AND (
	NOT $4::boolean
	OR regexp_replace(COALESCE(from_number, ''), '\D', '', 'g') = ANY($5::text[])
	OR regexp_replace(COALESCE(to_number, ''), '\D', '', 'g') = ANY($5::text[])
  )
ORDER BY start_time DESC NULLS LAST, created_at DESC
LIMIT $6`

	var from, to, direction any
	if !f.From.IsZero() {
		from = f.From
	}
	if !f.To.IsZero() {
		to = f.To
	}
	if f.Direction != "" {
		direction = string(f.Direction)
	}
	scoped := f.Numbers != nil
	numbers := NormalizeNumbers(f.Numbers)
	if numbers == nil {
		numbers = []string{}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}
	return s.query(ctx, s.db, q, from, to, direction, scoped, numbers, limit)
}

func (s *PostgresStore) query(ctx context.Context, q utils.Querier, sqlText string, args ...any) ([]CallRecord, error) {
	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		r          CallRecord
		partyID    sql.NullString
		direction  sql.NullString
		status     string
		insights   sql.NullString
		highlights []byte
		raw        []byte
	)
	err := row.Scan(
		&r.CallID, &partyID, &direction, &r.FromNumber, &r.ToNumber, &r.CallerName,
		&r.StartTime, &r.EndTime, &r.Duration, &r.Result, &status,
		&r.RecordingID, &r.RecordingURL, &r.RecordingFetchAttempts,
		&r.Transcript, &r.AISummary, &r.AIScore, &highlights, &r.CallNotes,
		&insights, &r.InsightsFetchAttempts, &r.InsightsLastFetch,
		&raw, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}
	r.PartyID = partyID.String
	r.Direction = Direction(direction.String)
	r.Status = Status(status)
	r.InsightsStatus = InsightsStatus(insights.String)
	if len(highlights) > 0 {
		if err := json.Unmarshal(highlights, &r.Highlights); err != nil {
			return CallRecord{}, fmt.Errorf("decode highlights: %w", err)
		}
	}
	if len(raw) > 0 {
		r.RawPayload = json.RawMessage(raw)
	}
	return r, nil
}

func str(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func ts(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func intp(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
