// Package org manages organizations and their members.
package org

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/store"
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

// CreateOrganization creates an organization owned by the caller.
func (s *Service) CreateOrganization(ctx context.Context, session models.Session, name string) (models.Organization, error) {
	if session.UserID == "" {
		return models.Organization{}, store.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Organization{}, store.ErrInvalidInput
	}
	now := s.now().UTC()
	org := models.Organization{OrganizationID: uuid.NewString(), Name: name, CreatedAt: now}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		return tx.UpsertMember(ctx, models.Member{
			OrganizationID: org.OrganizationID,
			UserID:         session.UserID,
			Role:           models.RoleOwner,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return models.Organization{}, err
	}
	org.Role = models.RoleOwner
	return org, nil
}

func (s *Service) ListMyOrganizations(ctx context.Context, session models.Session) ([]models.Organization, error) {
	if session.UserID == "" {
		return nil, store.ErrUnauthorized
	}
	var out []models.Organization
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListOrganizationsForUser(ctx, session.UserID)
		return err
	})
	return out, err
}

// AddMember gives an existing user a role in the organization, or changes
// the role of a current member.
func (s *Service) AddMember(ctx context.Context, session models.Session, organizationID, email, role string) (models.Member, error) {
	if !models.ValidRole(role) {
		return models.Member{}, store.ErrInvalidInput
	}
	var member models.Member
	err := s.store.Update(ctx, func(tx store.Tx) error {
		caller, err := access.Require(ctx, tx, session, organizationID, models.RoleAdmin)
		if err != nil {
			return err
		}
		if role == models.RoleOwner && caller.Role != models.RoleOwner {
			return store.ErrAccessDenied
		}
		user, err := tx.GetUserByEmail(ctx, strings.TrimSpace(email))
		if err != nil {
			return err
		}
		existing, err := tx.GetMember(ctx, organizationID, user.UserID)
		switch {
		case errors.Is(err, store.ErrMemberNotFound):
		case err != nil:
			return err
		case existing.Role == models.RoleOwner && role != models.RoleOwner:
			if err := s.keepOwner(ctx, tx, organizationID, user.UserID); err != nil {
				return err
			}
		}
		member = models.Member{
			OrganizationID: organizationID,
			UserID:         user.UserID,
			Email:          user.Email,
			DisplayName:    user.DisplayName,
			Role:           role,
			CreatedAt:      s.now().UTC(),
		}
		return tx.UpsertMember(ctx, member)
	})
	if err != nil {
		return models.Member{}, err
	}
	return member, nil
}

func (s *Service) ListMembers(ctx context.Context, session models.Session, organizationID string) ([]models.Member, error) {
	var out []models.Member
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Require(ctx, r, session, organizationID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.ListMembers(ctx, organizationID)
		return err
	})
	return out, err
}

func (s *Service) RemoveMember(ctx context.Context, session models.Session, organizationID, userID string) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		caller, err := access.Require(ctx, tx, session, organizationID, models.RoleAdmin)
		if err != nil {
			return err
		}
		target, err := tx.GetMember(ctx, organizationID, userID)
		if err != nil {
			return err
		}
		if target.Role == models.RoleOwner {
			if caller.Role != models.RoleOwner {
				return store.ErrAccessDenied
			}
			if err := s.keepOwner(ctx, tx, organizationID, userID); err != nil {
				return err
			}
		}
		return tx.DeleteMember(ctx, organizationID, userID)
	})
}

func (s *Service) keepOwner(ctx context.Context, tx store.Tx, organizationID, leavingUserID string) error {
	members, err := tx.ListMembers(ctx, organizationID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member.Role == models.RoleOwner && member.UserID != leavingUserID {
			return nil
		}
	}
	return store.ErrLastOwner
}
