package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"qms/internal/models"
	"qms/internal/store"
)

const userColumns = `user_id, email, display_name, password_hash, active, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.UserID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Active, &user.CreatedAt)
	return user, notFound(err, store.ErrUserNotFound)
}

func (c *conn) GetUser(ctx context.Context, userID string) (models.User, error) {
	return scanUser(c.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
}

func (c *conn) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(c.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (c *conn) GetUserByIdentity(ctx context.Context, provider, subject string) (models.User, error) {
	return scanUser(c.q.QueryRow(ctx, `
		SELECT u.user_id, u.email, u.display_name, u.password_hash, u.active, u.created_at
		FROM user_identities i
		JOIN users u ON u.user_id = i.user_id
		WHERE i.provider = $1 AND i.subject = $2
	`, provider, subject))
}

func (c *conn) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	err := c.q.QueryRow(ctx, `
		SELECT s.session_id, s.user_id, u.display_name, u.email, s.expires_at
		FROM sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.session_id = $1
	`, sessionID).Scan(&session.SessionID, &session.UserID, &session.UserName, &session.Email, &session.ExpiresAt)
	return session, notFound(err, store.ErrSessionNotFound)
}

func (c *conn) CreateUser(ctx context.Context, user models.User) error {
	_, err := c.exec(ctx, `
		INSERT INTO users (user_id, email, display_name, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.UserID, user.Email, user.DisplayName, user.PasswordHash, user.Active, user.CreatedAt)
	return err
}

func (c *conn) LinkIdentity(ctx context.Context, provider, subject, userID string) error {
	_, err := c.exec(ctx, `
		INSERT INTO user_identities (provider, subject, user_id) VALUES ($1, $2, $3)
		ON CONFLICT (provider, subject) DO UPDATE SET user_id = EXCLUDED.user_id
	`, provider, subject, userID)
	return err
}

func (c *conn) CreateSession(ctx context.Context, session models.Session) error {
	_, err := c.exec(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at) VALUES ($1, $2, $3)
	`, session.SessionID, session.UserID, session.ExpiresAt)
	return err
}

func (c *conn) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return err
}

func (c *conn) GetOrganization(ctx context.Context, organizationID string) (models.Organization, error) {
	var org models.Organization
	err := c.q.QueryRow(ctx, `
		SELECT organization_id, name, created_at FROM organizations WHERE organization_id = $1
	`, organizationID).Scan(&org.OrganizationID, &org.Name, &org.CreatedAt)
	return org, notFound(err, store.ErrOrganizationNotFound)
}

func (c *conn) ListOrganizationsForUser(ctx context.Context, userID string) ([]models.Organization, error) {
	rows, err := c.q.Query(ctx, `
		SELECT o.organization_id, o.name, m.role, o.created_at
		FROM members m
		JOIN organizations o ON o.organization_id = m.organization_id
		WHERE m.user_id = $1
		ORDER BY o.name, o.organization_id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Organization, error) {
		var org models.Organization
		err := row.Scan(&org.OrganizationID, &org.Name, &org.Role, &org.CreatedAt)
		return org, err
	})
}

func (c *conn) CreateOrganization(ctx context.Context, org models.Organization) error {
	_, err := c.exec(ctx, `
		INSERT INTO organizations (organization_id, name, created_at) VALUES ($1, $2, $3)
	`, org.OrganizationID, org.Name, org.CreatedAt)
	return err
}

const memberSelect = `
	SELECT m.organization_id, m.user_id, u.email, u.display_name, m.role, m.created_at
	FROM members m
	JOIN users u ON u.user_id = m.user_id
`

func scanMember(row pgx.Row) (models.Member, error) {
	var member models.Member
	err := row.Scan(&member.OrganizationID, &member.UserID, &member.Email, &member.DisplayName, &member.Role, &member.CreatedAt)
	return member, err
}

func (c *conn) GetMember(ctx context.Context, organizationID, userID string) (models.Member, error) {
	member, err := scanMember(c.q.QueryRow(ctx, memberSelect+` WHERE m.organization_id = $1 AND m.user_id = $2`, organizationID, userID))
	return member, notFound(err, store.ErrMemberNotFound)
}

func (c *conn) ListMembers(ctx context.Context, organizationID string) ([]models.Member, error) {
	rows, err := c.q.Query(ctx, memberSelect+` WHERE m.organization_id = $1 ORDER BY m.created_at, m.user_id`, organizationID)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Member, error) {
		return scanMember(row)
	})
}

func (c *conn) UpsertMember(ctx context.Context, member models.Member) error {
	_, err := c.exec(ctx, `
		INSERT INTO members (organization_id, user_id, role, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, member.OrganizationID, member.UserID, member.Role, member.CreatedAt)
	return err
}

func (c *conn) DeleteMember(ctx context.Context, organizationID, userID string) error {
	n, err := c.exec(ctx, `DELETE FROM members WHERE organization_id = $1 AND user_id = $2`, organizationID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrMemberNotFound
	}
	return nil
}
