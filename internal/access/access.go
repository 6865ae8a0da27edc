// Package access resolves what the caller of a service operation may do.
package access

import (
	"context"
	"errors"
	"fmt"

	"qms/internal/models"
	"qms/internal/store"
)

// Require returns the caller's membership in the organization when it grants
// at least minRole.
func Require(ctx context.Context, r store.Reader, session models.Session, organizationID, minRole string) (models.Member, error) {
	if session.UserID == "" {
		return models.Member{}, store.ErrUnauthorized
	}
	member, err := r.GetMember(ctx, organizationID, session.UserID)
	if errors.Is(err, store.ErrMemberNotFound) {
		return models.Member{}, store.ErrAccessDenied
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("load membership: %w", err)
	}
	if !models.RoleAtLeast(member.Role, minRole) {
		return models.Member{}, store.ErrAccessDenied
	}
	return member, nil
}

// Queue loads the queue and checks the caller's role in its organization.
func Queue(ctx context.Context, r store.Reader, session models.Session, queueID, minRole string) (models.Queue, error) {
	if session.UserID == "" {
		return models.Queue{}, store.ErrUnauthorized
	}
	queue, err := r.GetQueue(ctx, queueID)
	if err != nil {
		return models.Queue{}, err
	}
	if _, err := Require(ctx, r, session, queue.OrganizationID, minRole); err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}
