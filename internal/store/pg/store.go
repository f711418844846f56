// Package pg is the PostgreSQL side of the auth store: typed reads for the
// orchestrators and the transactional applier used by the durable worker.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authcore.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// ErrConstraint reports a write rejected by a unique or foreign key constraint.
var ErrConstraint = errors.New("pg: constraint violation")

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users(context.Context) auth.UserStore             { return userStore{s.db} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s.db} }
func (s *Store) Groups(context.Context) auth.GroupStore           { return groupStore{s.db} }
func (s *Store) Grants(context.Context) auth.GrantStore           { return grantStore{s.db} }
func (s *Store) Sessions(context.Context) auth.SessionStore       { return sessionStore{s.db} }
func (s *Store) Challenges(context.Context) auth.ChallengeStore   { return challengeStore{s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// classify maps constraint failures to ErrConstraint and wraps everything else.
func classify(op string, err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation, pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s: %s", ErrConstraint, op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("pg: %s: %w", op, err)
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, username, password, salt, is_complete, created, updated`

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Password, &u.Salt, &u.IsComplete, &u.Created, &u.Updated); err != nil {
		return nil, err
	}
	return &u, nil
}

type userStore struct{ db *sql.DB }

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	user, err := scanUser(u.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return user, noRows(err)
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := scanUser(u.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	return user, noRows(err)
}

func (u userStore) List(ctx context.Context, skip, limit int) ([]*auth.User, error) {
	rows, err := u.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created, id
		limit $1 offset $2
	`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

type named struct {
	id         string
	isOriginal bool
	created    time.Time
	updated    time.Time
}

func findNamed(ctx context.Context, db *sql.DB, table, id string) (named, error) {
	var n named
	err := db.QueryRowContext(ctx,
		`select id, is_original, created, updated from `+quote(table)+` where id = $1`, id,
	).Scan(&n.id, &n.isOriginal, &n.created, &n.updated)
	return n, noRows(err)
}

func listNamed(ctx context.Context, db *sql.DB, table string, skip, limit int) ([]named, error) {
	rows, err := db.QueryContext(ctx, `
		select id, is_original, created, updated
		from `+quote(table)+`
		order by created, id
		limit $1 offset $2
	`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []named
	for rows.Next() {
		var n named
		if err := rows.Scan(&n.id, &n.isOriginal, &n.created, &n.updated); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

type permissionStore struct{ db *sql.DB }

func (p permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	n, err := findNamed(ctx, p.db, "permissions", id)
	if err != nil {
		return nil, err
	}
	return &auth.Permission{ID: n.id, IsOriginal: n.isOriginal, Created: n.created, Updated: n.updated}, nil
}

func (p permissionStore) List(ctx context.Context, skip, limit int) ([]*auth.Permission, error) {
	ns, err := listNamed(ctx, p.db, "permissions", skip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*auth.Permission, 0, len(ns))
	for _, n := range ns {
		out = append(out, &auth.Permission{ID: n.id, IsOriginal: n.isOriginal, Created: n.created, Updated: n.updated})
	}
	return out, nil
}

type groupStore struct{ db *sql.DB }

func (g groupStore) Find(ctx context.Context, id string) (*auth.Group, error) {
	n, err := findNamed(ctx, g.db, "groups", id)
	if err != nil {
		return nil, err
	}
	return &auth.Group{ID: n.id, IsOriginal: n.isOriginal, Created: n.created, Updated: n.updated}, nil
}

func (g groupStore) List(ctx context.Context, skip, limit int) ([]*auth.Group, error) {
	ns, err := listNamed(ctx, g.db, "groups", skip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*auth.Group, 0, len(ns))
	for _, n := range ns {
		out = append(out, &auth.Group{ID: n.id, IsOriginal: n.isOriginal, Created: n.created, Updated: n.updated})
	}
	return out, nil
}

type grantStore struct{ db *sql.DB }

func (g grantStore) UserPermission(ctx context.Context, userID, permissionID string) (*auth.UserPermission, error) {
	var up auth.UserPermission
	err := g.db.QueryRowContext(ctx, `
		select user_id, permission_id, created, updated
		from user_permissions
		where user_id = $1 and permission_id = $2
	`, userID, permissionID).Scan(&up.UserID, &up.PermissionID, &up.Created, &up.Updated)
	if err != nil {
		return nil, noRows(err)
	}
	return &up, nil
}

func (g grantStore) UserPermissions(ctx context.Context, userID string) ([]auth.UserPermission, error) {
	rows, err := g.db.QueryContext(ctx, `
		select user_id, permission_id, created, updated
		from user_permissions
		where user_id = $1
		order by created, permission_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []auth.UserPermission{}
	for rows.Next() {
		var up auth.UserPermission
		if err := rows.Scan(&up.UserID, &up.PermissionID, &up.Created, &up.Updated); err != nil {
			return nil, err
		}
		result = append(result, up)
	}
	return result, rows.Err()
}

func (g grantStore) UserGroup(ctx context.Context, userID, groupID string) (*auth.UserGroup, error) {
	var ug auth.UserGroup
	err := g.db.QueryRowContext(ctx, `
		select user_id, group_id, created, updated
		from user_groups
		where user_id = $1 and group_id = $2
	`, userID, groupID).Scan(&ug.UserID, &ug.GroupID, &ug.Created, &ug.Updated)
	if err != nil {
		return nil, noRows(err)
	}
	return &ug, nil
}

func (g grantStore) UserGroups(ctx context.Context, userID string) ([]auth.UserGroup, error) {
	rows, err := g.db.QueryContext(ctx, `
		select user_id, group_id, created, updated
		from user_groups
		where user_id = $1
		order by created, group_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []auth.UserGroup{}
	for rows.Next() {
		var ug auth.UserGroup
		if err := rows.Scan(&ug.UserID, &ug.GroupID, &ug.Created, &ug.Updated); err != nil {
			return nil, err
		}
		result = append(result, ug)
	}
	return result, rows.Err()
}

const groupPermissionColumns = `group_id, permission_id, is_original, created, updated`

func scanGroupPermission(row scanner) (auth.GroupPermission, error) {
	var gp auth.GroupPermission
	err := row.Scan(&gp.GroupID, &gp.PermissionID, &gp.IsOriginal, &gp.Created, &gp.Updated)
	return gp, err
}

func (g grantStore) GroupPermission(ctx context.Context, groupID, permissionID string) (*auth.GroupPermission, error) {
	gp, err := scanGroupPermission(g.db.QueryRowContext(ctx, `
		select `+groupPermissionColumns+`
		from group_permissions
		where group_id = $1 and permission_id = $2
	`, groupID, permissionID))
	if err != nil {
		return nil, noRows(err)
	}
	return &gp, nil
}

func (g grantStore) GroupPermissions(ctx context.Context, groupID string) ([]auth.GroupPermission, error) {
	return g.groupPermissionsBy(ctx, "group_id", groupID)
}

func (g grantStore) PermissionGroups(ctx context.Context, permissionID string) ([]auth.GroupPermission, error) {
	return g.groupPermissionsBy(ctx, "permission_id", permissionID)
}

func (g grantStore) groupPermissionsBy(ctx context.Context, column, value string) ([]auth.GroupPermission, error) {
	rows, err := g.db.QueryContext(ctx, `
		select `+groupPermissionColumns+`
		from group_permissions
		where `+quote(column)+` = $1
		order by created, group_id, permission_id
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []auth.GroupPermission{}
	for rows.Next() {
		gp, err := scanGroupPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, gp)
	}
	return result, rows.Err()
}

type sessionStore struct{ db *sql.DB }

func (ss sessionStore) Find(ctx context.Context, userID, sessionID string) (*auth.Session, error) {
	var s auth.Session
	err := ss.db.QueryRowContext(ctx, `
		select user_id, session_id, expirated, created, updated
		from sessions
		where user_id = $1 and session_id = $2
	`, userID, sessionID).Scan(&s.UserID, &s.SessionID, &s.Expirated, &s.Created, &s.Updated)
	if err != nil {
		return nil, noRows(err)
	}
	return &s, nil
}

func (ss sessionStore) ListByUser(ctx context.Context, userID string) ([]auth.Session, error) {
	rows, err := ss.db.QueryContext(ctx, `
		select user_id, session_id, expirated, created, updated
		from sessions
		where user_id = $1
		order by created, session_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []auth.Session{}
	for rows.Next() {
		var s auth.Session
		if err := rows.Scan(&s.UserID, &s.SessionID, &s.Expirated, &s.Created, &s.Updated); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type challengeStore struct{ db *sql.DB }

func (c challengeStore) Find(ctx context.Context, id, flow string) (*auth.Challenge, error) {
	var ch auth.Challenge
	err := c.db.QueryRowContext(ctx, `
		select id, flow, "key", value, created, updated
		from randoms
		where id = $1 and flow = $2
	`, id, flow).Scan(&ch.ID, &ch.Flow, &ch.Key, &ch.Value, &ch.Created, &ch.Updated)
	if err != nil {
		return nil, noRows(err)
	}
	return &ch, nil
}
