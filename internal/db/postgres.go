package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intl_dossier/backend/internal/models"
)

// Postgres implements Store on a pgx connection pool. Schema lives in
// scripts/schema.sql.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() {
	s.Pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Postgres) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Postgres) UpsertStaff(ctx context.Context, staff []models.StaffProfile) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, p := range staff {
			_, err := tx.Exec(ctx, `
				INSERT INTO staff_profiles (user_id, full_name, unit_id, role, skills, wip_limit, reports_to, escalation_chain_id, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (user_id) DO UPDATE SET
					full_name = EXCLUDED.full_name,
					unit_id = EXCLUDED.unit_id,
					role = EXCLUDED.role,
					skills = EXCLUDED.skills,
					wip_limit = EXCLUDED.wip_limit,
					reports_to = EXCLUDED.reports_to,
					escalation_chain_id = EXCLUDED.escalation_chain_id,
					updated_at = EXCLUDED.updated_at
			`, p.UserID, p.FullName, p.UnitID, p.Role, p.Skills, p.WIPLimit, p.ReportsTo, p.EscalationChainID, p.UpdatedAt)
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Postgres) UpsertUnits(ctx context.Context, units []models.OrganizationalUnit) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, u := range units {
			_, err := tx.Exec(ctx, `
				INSERT INTO organizational_units (id, name, wip_limit)
				VALUES ($1,$2,$3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, wip_limit = EXCLUDED.wip_limit
			`, u.ID, u.Name, u.WIPLimit)
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Postgres) GetStaff(ctx context.Context, userID string) (models.StaffProfile, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT user_id, full_name, unit_id, role, skills, wip_limit, reports_to, escalation_chain_id, updated_at
		FROM staff_profiles WHERE user_id = $1
	`, userID)

	var p models.StaffProfile
	if err := row.Scan(&p.UserID, &p.FullName, &p.UnitID, &p.Role, &p.Skills, &p.WIPLimit, &p.ReportsTo, &p.EscalationChainID, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StaffProfile{}, ErrNotFound
		}
		return models.StaffProfile{}, err
	}
	return p, nil
}

func (s *Postgres) ListStaff(ctx context.Context, unitID, skill string) ([]models.StaffProfile, error) {
	query := `SELECT user_id, full_name, unit_id, role, skills, wip_limit, reports_to, escalation_chain_id, updated_at FROM staff_profiles`
	var args []any
	var wheres []string
	if unitID != "" {
		args = append(args, unitID)
		wheres = append(wheres, fmt.Sprintf("unit_id = $%d", len(args)))
	}
	if skill != "" {
		args = append(args, skill)
		wheres = append(wheres, fmt.Sprintf("$%d = ANY(skills)", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY user_id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StaffProfile
	for rows.Next() {
		var p models.StaffProfile
		if err := rows.Scan(&p.UserID, &p.FullName, &p.UnitID, &p.Role, &p.Skills, &p.WIPLimit, &p.ReportsTo, &p.EscalationChainID, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) ListUnits(ctx context.Context) ([]models.OrganizationalUnit, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, wip_limit FROM organizational_units ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrganizationalUnit
	for rows.Next() {
		var u models.OrganizationalUnit
		if err := rows.Scan(&u.ID, &u.Name, &u.WIPLimit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateAssignment(ctx context.Context, a models.Assignment) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO assignments (id, work_item_type, work_item_id, assignee_id, assigned_by, priority, status, required_skills, assigned_at, sla_deadline)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.WorkItemType, a.WorkItemID, a.AssigneeID, a.AssignedBy, a.Priority, a.Status, a.RequiredSkills, a.AssignedAt, a.SLADeadline)
	return err
}

const assignmentColumns = `id, work_item_type, work_item_id, assignee_id, assigned_by, priority, status, required_skills, assigned_at, sla_deadline, completed_at, escalated_at, escalation_recipient_id, last_reminder_sent_at`

func scanAssignment(row pgx.Row) (models.Assignment, error) {
	var a models.Assignment
	err := row.Scan(&a.ID, &a.WorkItemType, &a.WorkItemID, &a.AssigneeID, &a.AssignedBy, &a.Priority, &a.Status, &a.RequiredSkills,
		&a.AssignedAt, &a.SLADeadline, &a.CompletedAt, &a.EscalatedAt, &a.EscalationRecipientID, &a.LastReminderSentAt)
	return a, err
}

func (s *Postgres) GetAssignment(ctx context.Context, id string) (models.Assignment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Assignment{}, ErrNotFound
		}
		return models.Assignment{}, err
	}
	return a, nil
}

func (s *Postgres) ListAssignmentsByAssignee(ctx context.Context, userID string, statuses []string) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE assignee_id = $1`
	args := []any{userID}
	if len(statuses) > 0 {
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY sla_deadline ASC, id ASC"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAssignmentStatus refuses to move an assignment out of a
// terminal state; the condition lives in the UPDATE itself so two
// concurrent transitions cannot both succeed.
func (s *Postgres) UpdateAssignmentStatus(ctx context.Context, id, status string, completedAt *time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE assignments SET status = $1, completed_at = $2
		WHERE id = $3 AND status NOT IN ('completed','cancelled')
	`, status, completedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrTerminalState
		}
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkEscalated(ctx context.Context, id string, at time.Time, recipientID string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE assignments SET escalated_at = $1, escalation_recipient_id = $2 WHERE id = $3`, at, recipientID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE assignments SET last_reminder_sent_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) OpenAssignmentCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT assignee_id, COUNT(*) FROM assignments
		WHERE assignee_id IS NOT NULL AND status IN ('assigned','in_progress')
		GROUP BY assignee_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *Postgres) InsertEscalation(ctx context.Context, e models.EscalationEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO escalation_events (id, assignment_id, queue_entry_id, escalated_from, escalated_to, reason, notes, escalated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.AssignmentID, e.QueueEntryID, e.EscalatedFrom, e.EscalatedTo, e.Reason, e.Notes, e.EscalatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEscalation
		}
		return err
	}
	return nil
}

func (s *Postgres) GetEscalation(ctx context.Context, id string) (models.EscalationEvent, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, assignment_id, queue_entry_id, escalated_from, escalated_to, reason, notes, escalated_at, acknowledged_at
		FROM escalation_events WHERE id = $1
	`, id)

	var e models.EscalationEvent
	if err := row.Scan(&e.ID, &e.AssignmentID, &e.QueueEntryID, &e.EscalatedFrom, &e.EscalatedTo, &e.Reason, &e.Notes, &e.EscalatedAt, &e.AcknowledgedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EscalationEvent{}, ErrNotFound
		}
		return models.EscalationEvent{}, err
	}
	return e, nil
}

func (s *Postgres) AcknowledgeEscalation(ctx context.Context, id, notes string, at time.Time) (models.EscalationEvent, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE escalation_events SET acknowledged_at = $1, notes = $2 WHERE id = $3
		RETURNING id, assignment_id, queue_entry_id, escalated_from, escalated_to, reason, notes, escalated_at, acknowledged_at
	`, at, notes, id)

	var e models.EscalationEvent
	if err := row.Scan(&e.ID, &e.AssignmentID, &e.QueueEntryID, &e.EscalatedFrom, &e.EscalatedTo, &e.Reason, &e.Notes, &e.EscalatedAt, &e.AcknowledgedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EscalationEvent{}, ErrNotFound
		}
		return models.EscalationEvent{}, err
	}
	return e, nil
}

func (s *Postgres) Enqueue(ctx context.Context, e models.AssignmentQueueEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO assignment_queue (id, work_item_type, work_item_id, required_skills, priority, attempts, enqueued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.WorkItemType, e.WorkItemID, e.RequiredSkills, e.Priority, e.Attempts, e.EnqueuedAt)
	return err
}

const queueColumns = `id, work_item_type, work_item_id, required_skills, priority, attempts, enqueued_at`

func (s *Postgres) GetQueueEntry(ctx context.Context, id string) (models.AssignmentQueueEntry, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM assignment_queue WHERE id = $1`, id)

	var e models.AssignmentQueueEntry
	if err := row.Scan(&e.ID, &e.WorkItemType, &e.WorkItemID, &e.RequiredSkills, &e.Priority, &e.Attempts, &e.EnqueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AssignmentQueueEntry{}, ErrNotFound
		}
		return models.AssignmentQueueEntry{}, err
	}
	return e, nil
}

// ListQueue returns queue entries ordered urgent first, FIFO within a
// priority tier.
func (s *Postgres) ListQueue(ctx context.Context) ([]models.AssignmentQueueEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+queueColumns+` FROM assignment_queue
		ORDER BY CASE priority
			WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0
		END DESC, enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AssignmentQueueEntry
	for rows.Next() {
		var e models.AssignmentQueueEntry
		if err := rows.Scan(&e.ID, &e.WorkItemType, &e.WorkItemID, &e.RequiredSkills, &e.Priority, &e.Attempts, &e.EnqueuedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) IncrementQueueAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.Pool.QueryRow(ctx, `UPDATE assignment_queue SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (s *Postgres) RemoveQueueEntry(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM assignment_queue WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateBulkJob(ctx context.Context, j models.BulkJob) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO bulk_jobs (id, operation, requested_by, target_ids, status, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, j.ID, j.Operation, j.RequestedBy, j.TargetIDs, j.Status, j.Total, j.CreatedAt)
	return err
}

func (s *Postgres) GetBulkJob(ctx context.Context, id string) (models.BulkJob, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, operation, requested_by, target_ids, status, total, succeeded, failed, skipped, results, created_at, started_at, completed_at
		FROM bulk_jobs WHERE id = $1
	`, id)

	var j models.BulkJob
	var results []byte
	if err := row.Scan(&j.ID, &j.Operation, &j.RequestedBy, &j.TargetIDs, &j.Status, &j.Total, &j.Succeeded, &j.Failed, &j.Skipped, &results, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BulkJob{}, ErrNotFound
		}
		return models.BulkJob{}, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return models.BulkJob{}, err
		}
	}
	return j, nil
}

func (s *Postgres) StartBulkJob(ctx context.Context, id string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE bulk_jobs SET status = 'processing', started_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordBulkItem appends one item outcome and bumps the matching
// counter in a single statement, so concurrent item completions never
// lose updates.
func (s *Postgres) RecordBulkItem(ctx context.Context, jobID string, item models.BulkItemResult) error {
	var succ, fail, skip int
	switch item.Outcome {
	case models.OutcomeSuccess:
		succ = 1
	case models.OutcomeSkipped:
		skip = 1
	default:
		fail = 1
	}

	b, err := json.Marshal(item)
	if err != nil {
		return err
	}

	tag, err := s.Pool.Exec(ctx, `
		UPDATE bulk_jobs SET
			results = results || $1::jsonb,
			succeeded = succeeded + $2,
			failed = failed + $3,
			skipped = skipped + $4
		WHERE id = $5
	`, b, succ, fail, skip, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) FinishBulkJob(ctx context.Context, id, status string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE bulk_jobs SET status = $1, completed_at = $2 WHERE id = $3`, status, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateRun(ctx context.Context, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO runs (status, started_at) VALUES ($1, NOW()) RETURNING id`, status).Scan(&id)
	return id, err
}

func (s *Postgres) FinishRun(ctx context.Context, runID, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Postgres) GetLatestRun(ctx context.Context) (models.Run, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`)

	var r models.Run
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, err
	}
	return r, nil
}
