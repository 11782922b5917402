package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
)

const identityColumns = `
	id, email, password_hash, name, role, permissions, hierarchy_level,
	organization_id, organization_kind, allowed_ips, allowed_regions,
	two_factor_enabled, login_attempts, lock_until, active, verified,
	access_valid_from, access_valid_until, last_login, last_login_origin,
	created_by, created_at, updated_at, deactivated_at`

func (s *Store) Create(ctx context.Context, id *identity.Identity) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	perms, err := marshalList(id.Permissions)
	if err != nil {
		return err
	}
	ips, err := marshalList(id.AllowedIPs)
	if err != nil {
		return err
	}
	regions, err := marshalList(id.AllowedRegions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into admin_identities (
			id, email, password_hash, name, role, permissions, hierarchy_level,
			organization_id, organization_kind, allowed_ips, allowed_regions,
			two_factor_enabled, active, verified,
			access_valid_from, access_valid_until, created_by, created_at, updated_at
		)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9,$10,$11,$12,$13,$14,$15,$16,nullif($17,''),$18,$18)
	`, id.ID, id.Email, id.PasswordHash, id.Name, string(id.Role), perms, id.HierarchyLevel,
		id.OrganizationID, string(id.OrganizationKind), ips, regions,
		id.TwoFactorEnabled, id.Active, id.Verified,
		nullTime(id.AccessValidFrom), nullTime(id.AccessValidUntil), id.CreatedBy, id.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.findIdentity(ctx, `where id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return s.findIdentity(ctx, `where lower(email) = lower($1)`, email)
}

func (s *Store) findIdentity(ctx context.Context, where string, arg any) (*identity.Identity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from admin_identities `+where, arg)
	return scanIdentity(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*identity.Identity, error) {
	var (
		id          identity.Identity
		role        string
		kind        string
		rawPerms    []byte
		rawIPs      []byte
		rawRegions  []byte
		orgID       sql.NullString
		lockUntil   sql.NullTime
		validFrom   sql.NullTime
		validUntil  sql.NullTime
		lastLogin   sql.NullTime
		loginOrigin sql.NullString
		createdBy   sql.NullString
		deactivated sql.NullTime
	)
	err := row.Scan(
		&id.ID, &id.Email, &id.PasswordHash, &id.Name, &role, &rawPerms, &id.HierarchyLevel,
		&orgID, &kind, &rawIPs, &rawRegions,
		&id.TwoFactorEnabled, &id.LoginAttempts, &lockUntil, &id.Active, &id.Verified,
		&validFrom, &validUntil, &lastLogin, &loginOrigin,
		&createdBy, &id.CreatedAt, &id.UpdatedAt, &deactivated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	id.Role = catalog.Role(role)
	id.OrganizationKind = catalog.OrganizationKind(kind)
	if err := unmarshalList(rawPerms, &id.Permissions); err != nil {
		return nil, err
	}
	var ips, regions []string
	if len(rawIPs) > 0 {
		if err := json.Unmarshal(rawIPs, &ips); err != nil {
			return nil, err
		}
	}
	if len(rawRegions) > 0 {
		if err := json.Unmarshal(rawRegions, &regions); err != nil {
			return nil, err
		}
	}
	id.AllowedIPs = ips
	id.AllowedRegions = regions
	id.OrganizationID = orgID.String
	id.LockUntil = timePtr(lockUntil)
	id.AccessValidFrom = timePtr(validFrom)
	id.AccessValidUntil = timePtr(validUntil)
	id.LastLogin = timePtr(lastLogin)
	id.LastLoginOrigin = loginOrigin.String
	id.CreatedBy = createdBy.String
	id.DeactivatedAt = timePtr(deactivated)
	return &id, nil
}

func (s *Store) Update(ctx context.Context, id *identity.Identity) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	perms, err := marshalList(id.Permissions)
	if err != nil {
		return err
	}
	ips, err := marshalList(id.AllowedIPs)
	if err != nil {
		return err
	}
	regions, err := marshalList(id.AllowedRegions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		update admin_identities set
			email = $2, name = $3, role = $4, permissions = $5, hierarchy_level = $6,
			organization_id = nullif($7,''), organization_kind = $8,
			allowed_ips = $9, allowed_regions = $10, two_factor_enabled = $11,
			access_valid_from = $12, access_valid_until = $13,
			active = $14, verified = $15, updated_at = $16
		where id = $1
	`, id.ID, id.Email, id.Name, string(id.Role), perms, id.HierarchyLevel,
		id.OrganizationID, string(id.OrganizationKind),
		ips, regions, id.TwoFactorEnabled,
		nullTime(id.AccessValidFrom), nullTime(id.AccessValidUntil),
		id.Active, id.Verified, id.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrAlreadyExists
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) Deactivate(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update admin_identities
		set active = false, deactivated_at = $2, updated_at = $2
		where id = $1 and active
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// RegisterFailedAttempt runs the whole counter transition inside one UPDATE so
// concurrent failures from several API instances never under-count. The CASE
// expressions see the pre-update column values.
func (s *Store) RegisterFailedAttempt(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	if s.db == nil {
		return 0, nil, errors.New("database connection unavailable")
	}
	var (
		attempts  int
		lockUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update admin_identities set
			login_attempts = case
				when lock_until is not null and lock_until <= $2 then 1
				else login_attempts + 1
			end,
			lock_until = case
				when lock_until is not null and lock_until <= $2 then null
				when lock_until is null and login_attempts + 1 >= $3 then $4
				else lock_until
			end,
			updated_at = $2
		where id = $1
		returning login_attempts, lock_until
	`, id, now, threshold, now.Add(lockFor)).Scan(&attempts, &lockUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, identity.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return attempts, timePtr(lockUntil), nil
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time, origin string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update admin_identities set
			login_attempts = 0, lock_until = null,
			last_login = $2, last_login_origin = nullif($3,''), updated_at = $2
		where id = $1
	`, id, at, origin)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}
