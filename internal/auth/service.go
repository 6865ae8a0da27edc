// Package auth signs users in and resolves bearer sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"qms/internal/models"
	"qms/internal/store"
)

const DefaultSessionTTL = 8 * time.Hour

type Service struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(s store.Store, ttl time.Duration, now func() time.Time) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, ttl: ttl, now: now}
}

type LoginResult struct {
	User          models.User           `json:"user"`
	Session       models.Session        `json:"session"`
	Organizations []models.Organization `json:"organizations"`
}

type SSOInput struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// CreateUser registers a password user.
func (s *Service) CreateUser(ctx context.Context, email, displayName, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)
	if email == "" || len(password) < 8 {
		return models.User{}, fmt.Errorf("%w: email and a password of at least 8 characters are required", store.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	if displayName == "" {
		displayName = email
	}
	user := models.User{
		UserID:       uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.Update(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var result LoginResult
	err := s.store.Update(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserByEmail(ctx, strings.TrimSpace(email))
		if errors.Is(err, store.ErrUserNotFound) {
			return store.ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		if !user.Active || user.PasswordHash == "" {
			return store.ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return store.ErrInvalidCredentials
		}
		result, err = s.startSession(ctx, tx, user)
		return err
	})
	return result, err
}

// SSOLogin signs in through an external identity provider, creating the
// user on first sight.
func (s *Service) SSOLogin(ctx context.Context, in SSOInput) (LoginResult, error) {
	provider := strings.TrimSpace(in.Provider)
	subject := strings.TrimSpace(in.Subject)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if provider == "" || subject == "" || email == "" {
		return LoginResult{}, store.ErrInvalidInput
	}

	var result LoginResult
	err := s.store.Update(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserByIdentity(ctx, provider, subject)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			user, err = tx.GetUserByEmail(ctx, email)
			if errors.Is(err, store.ErrUserNotFound) {
				name := strings.TrimSpace(in.DisplayName)
				if name == "" {
					name = email
				}
				user = models.User{
					UserID:      uuid.NewString(),
					Email:       email,
					DisplayName: name,
					Active:      true,
					CreatedAt:   s.now().UTC(),
				}
				err = tx.CreateUser(ctx, user)
			}
			if err != nil {
				return err
			}
			if err := tx.LinkIdentity(ctx, provider, subject, user.UserID); err != nil {
				return fmt.Errorf("link identity: %w", err)
			}
		case err != nil:
			return err
		}
		if !user.Active {
			return store.ErrInvalidCredentials
		}
		result, err = s.startSession(ctx, tx, user)
		return err
	})
	return result, err
}

func (s *Service) startSession(ctx context.Context, tx store.Tx, user models.User) (LoginResult, error) {
	session := models.Session{
		SessionID: uuid.NewString(),
		UserID:    user.UserID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := tx.CreateSession(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	orgs, err := tx.ListOrganizationsForUser(ctx, user.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Session: session, Organizations: orgs}, nil
}

// Session resolves a bearer token to the caller. Expired and unknown tokens
// both read as ErrUnauthorized.
func (s *Service) Session(ctx context.Context, sessionID string) (models.Session, error) {
	if sessionID == "" {
		return models.Session{}, store.ErrUnauthorized
	}
	var session models.Session
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		session, err = r.GetSession(ctx, sessionID)
		if errors.Is(err, store.ErrSessionNotFound) {
			return store.ErrUnauthorized
		}
		return err
	})
	if err != nil {
		return models.Session{}, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return models.Session{}, store.ErrUnauthorized
	}
	return session, nil
}

// Me returns the signed-in user with their organizations.
func (s *Service) Me(ctx context.Context, session models.Session) (LoginResult, error) {
	var result LoginResult
	err := s.store.View(ctx, func(r store.Reader) error {
		user, err := r.GetUser(ctx, session.UserID)
		if err != nil {
			return err
		}
		orgs, err := r.ListOrganizationsForUser(ctx, user.UserID)
		if err != nil {
			return err
		}
		result = LoginResult{User: user, Session: session, Organizations: orgs}
		return nil
	})
	return result, err
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		return tx.DeleteSession(ctx, sessionID)
	})
}
