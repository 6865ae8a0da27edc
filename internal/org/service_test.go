package org

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/internal/models"
	"qms/internal/store"
	"qms/internal/store/memory"
)

var (
	ana  = models.Session{SessionID: "s-ana", UserID: "u-ana"}
	bo   = models.Session{SessionID: "s-bo", UserID: "u-bo"}
	cleo = models.Session{SessionID: "s-cleo", UserID: "u-cleo"}
)

func setup(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	err := st.Update(ctx, func(tx store.Tx) error {
		for _, s := range []models.Session{ana, bo, cleo} {
			user := models.User{UserID: s.UserID, Email: s.UserID[2:] + "@example.com", DisplayName: s.UserID[2:], Active: true}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(st, time.Now)
}

func TestCreateOrganizationMakesCallerOwner(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, ana, " Clinic ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if org.Name != "Clinic" || org.Role != models.RoleOwner {
		t.Fatalf("unexpected organization: %+v", org)
	}
	mine, err := svc.ListMyOrganizations(ctx, ana)
	if err != nil || len(mine) != 1 || mine[0].Role != models.RoleOwner {
		t.Fatalf("list: %+v %v", mine, err)
	}
	if _, err := svc.CreateOrganization(ctx, ana, "  "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := svc.CreateOrganization(ctx, models.Session{}, "Anon"); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMembership(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()
	org, err := svc.CreateOrganization(ctx, ana, "Clinic")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	member, err := svc.AddMember(ctx, ana, org.OrganizationID, "bo@example.com", models.RoleAdmin)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if member.UserID != bo.UserID || member.DisplayName != "bo" {
		t.Fatalf("unexpected member: %+v", member)
	}
	if _, err := svc.AddMember(ctx, ana, org.OrganizationID, "nobody@example.com", models.RoleAttendant); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := svc.AddMember(ctx, ana, org.OrganizationID, "cleo@example.com", "janitor"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	if _, err := svc.AddMember(ctx, bo, org.OrganizationID, "cleo@example.com", models.RoleOwner); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("admins must not grant ownership, got %v", err)
	}
	if _, err := svc.AddMember(ctx, bo, org.OrganizationID, "cleo@example.com", models.RoleAttendant); err != nil {
		t.Fatalf("admin adds attendant: %v", err)
	}
	if _, err := svc.AddMember(ctx, cleo, org.OrganizationID, "cleo@example.com", models.RoleAdmin); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("attendants must not manage members, got %v", err)
	}

	members, err := svc.ListMembers(ctx, cleo, org.OrganizationID)
	if err != nil || len(members) != 3 {
		t.Fatalf("members: %+v %v", members, err)
	}

	if err := svc.RemoveMember(ctx, bo, org.OrganizationID, ana.UserID); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("admins must not remove owners, got %v", err)
	}
	if err := svc.RemoveMember(ctx, ana, org.OrganizationID, ana.UserID); !errors.Is(err, store.ErrLastOwner) {
		t.Fatalf("expected last owner protection, got %v", err)
	}
	if _, err := svc.AddMember(ctx, ana, org.OrganizationID, "ana@example.com", models.RoleAdmin); !errors.Is(err, store.ErrLastOwner) {
		t.Fatalf("last owner must not demote itself, got %v", err)
	}
	if err := svc.RemoveMember(ctx, bo, org.OrganizationID, cleo.UserID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := svc.ListMembers(ctx, cleo, org.OrganizationID); !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("removed member keeps access: %v", err)
	}
}
