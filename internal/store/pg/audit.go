package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"rideops.org/internal/audit"
)

const auditColumns = `
	id, actor_id, actor_email, action, category, severity, system_critical,
	status, details, target_type, target_id, before_state, after_state,
	origin_ip, user_agent, request_method, request_path, request_body,
	response_status, execution_ms, session_id, correlation_id, geolocation,
	is_automated, requires_review, is_reviewed, reviewed_by, reviewed_at,
	review_notes, created_at`

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	before, err := marshalJSON(e.BeforeState)
	if err != nil {
		return err
	}
	after, err := marshalJSON(e.AfterState)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries (
			id, actor_id, actor_email, action, category, severity, system_critical,
			status, details, target_type, target_id, before_state, after_state,
			origin_ip, user_agent, request_method, request_path, request_body,
			response_status, execution_ms, session_id, correlation_id, geolocation,
			is_automated, requires_review, created_at
		)
		values (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,
			$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
		)
	`, e.ID, e.ActorID, nullIfEmpty(e.ActorEmail), e.Action, string(e.Category), string(e.Severity), e.SystemCritical,
		string(e.Status), details, nullIfEmpty(e.TargetType), nullIfEmpty(e.TargetID), before, after,
		nullIfEmpty(e.OriginIP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestMethod), nullIfEmpty(e.RequestPath), nullIfEmpty(e.RequestBody),
		e.ResponseStatus, e.ExecutionMS, nullIfEmpty(e.SessionID), nullIfEmpty(e.CorrelationID), nullIfEmpty(e.Geolocation),
		e.IsAutomated, e.RequiresReview, e.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return audit.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) Entry(ctx context.Context, id string) (*audit.Entry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+auditColumns+` from audit_entries where id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarkReviewed applies the one-time transition. The guarded update only
// touches unreviewed rows; a zero row count is disambiguated against the
// entry's existence.
func (s *Store) MarkReviewed(ctx context.Context, id, reviewer, notes string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update audit_entries
		set is_reviewed = true, reviewed_by = $2, reviewed_at = $3, review_notes = nullif($4,'')
		where id = $1 and not is_reviewed
	`, id, reviewer, at, notes)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from audit_entries where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return audit.ErrNotFound
	}
	return audit.ErrAlreadyReviewed
}

func (s *Store) ListByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]audit.Entry, error) {
	return s.list(ctx, `actor_id = $2`, since, limit, actorID)
}

func (s *Store) ListByAction(ctx context.Context, action string, since time.Time, limit int) ([]audit.Entry, error) {
	return s.list(ctx, `action = $2`, since, limit, action)
}

func (s *Store) ListBySeverity(ctx context.Context, sev audit.Severity, since time.Time, limit int) ([]audit.Entry, error) {
	return s.list(ctx, `severity = $2`, since, limit, string(sev))
}

func (s *Store) ListByCategory(ctx context.Context, cat audit.Category, since time.Time, limit int) ([]audit.Entry, error) {
	return s.list(ctx, `category = $2`, since, limit, string(cat))
}

func (s *Store) ListUnauthorized(ctx context.Context, since time.Time, limit int) ([]audit.Entry, error) {
	return s.list(ctx, `action like 'UNAUTHORIZED_%'`, since, limit)
}

func (s *Store) list(ctx context.Context, where string, since time.Time, limit int, args ...any) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	query := `select ` + auditColumns + `
		from audit_entries
		where created_at >= $1 and ` + where + `
		order by created_at desc
		limit ` + limitArg(len(args)+2)
	all := append([]any{since}, args...)
	all = append(all, limit)

	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ActorCategoryRollup(ctx context.Context, actorID string, since time.Time) (map[audit.Category]int, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select category, count(*)
		from audit_entries
		where actor_id = $1 and created_at >= $2
		group by category
	`, actorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[audit.Category]int{}
	for rows.Next() {
		var (
			cat   string
			count int
		)
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, err
		}
		result[audit.Category(cat)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ActionRollup(ctx context.Context, since time.Time) ([]audit.ActionStat, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select action, count(*), count(distinct actor_id), max(created_at)
		from audit_entries
		where created_at >= $1
		group by action
		order by count(*) desc
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []audit.ActionStat
	for rows.Next() {
		var st audit.ActionStat
		if err := rows.Scan(&st.Action, &st.Count, &st.Actors, &st.LastOccurred); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from audit_entries where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		e          audit.Entry
		category   string
		severity   string
		status     string
		actorEmail sql.NullString
		rawDetails []byte
		targetType sql.NullString
		targetID   sql.NullString
		rawBefore  []byte
		rawAfter   []byte
		originIP   sql.NullString
		userAgent  sql.NullString
		reqMethod  sql.NullString
		reqPath    sql.NullString
		reqBody    sql.NullString
		sessionID  sql.NullString
		corrID     sql.NullString
		geo        sql.NullString
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
		notes      sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.ActorID, &actorEmail, &e.Action, &category, &severity, &e.SystemCritical,
		&status, &rawDetails, &targetType, &targetID, &rawBefore, &rawAfter,
		&originIP, &userAgent, &reqMethod, &reqPath, &reqBody,
		&e.ResponseStatus, &e.ExecutionMS, &sessionID, &corrID, &geo,
		&e.IsAutomated, &e.RequiresReview, &e.IsReviewed, &reviewedBy, &reviewedAt,
		&notes, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Category = audit.Category(category)
	e.Severity = audit.Severity(severity)
	e.Status = audit.Status(status)
	e.ActorEmail = actorEmail.String
	e.TargetType = targetType.String
	e.TargetID = targetID.String
	e.OriginIP = originIP.String
	e.UserAgent = userAgent.String
	e.RequestMethod = reqMethod.String
	e.RequestPath = reqPath.String
	e.RequestBody = reqBody.String
	e.SessionID = sessionID.String
	e.CorrelationID = corrID.String
	e.Geolocation = geo.String
	e.ReviewedBy = reviewedBy.String
	e.ReviewedAt = timePtr(reviewedAt)
	e.ReviewNotes = notes.String
	if len(rawDetails) > 0 && string(rawDetails) != "{}" {
		if err := json.Unmarshal(rawDetails, &e.Details); err != nil {
			return nil, err
		}
	}
	if len(rawBefore) > 0 && string(rawBefore) != "{}" {
		if err := json.Unmarshal(rawBefore, &e.BeforeState); err != nil {
			return nil, err
		}
	}
	if len(rawAfter) > 0 && string(rawAfter) != "{}" {
		if err := json.Unmarshal(rawAfter, &e.AfterState); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
