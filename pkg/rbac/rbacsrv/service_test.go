package rbacsrv

import (
	"context"
	"testing"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
)

type fakeAssignmentRepository struct {
	effective map[kernel.UserID][]*rbac.Permission
}

func (f *fakeAssignmentRepository) GrantPermission(_ context.Context, _, _ string) error { return nil }
func (f *fakeAssignmentRepository) RevokePermission(_ context.Context, _, _ string) error {
	return nil
}
func (f *fakeAssignmentRepository) PermissionsForRole(_ context.Context, _ string) ([]*rbac.Permission, error) {
	return nil, nil
}
func (f *fakeAssignmentRepository) AssignRole(_ context.Context, _ *rbac.UserRole) error { return nil }
func (f *fakeAssignmentRepository) UnassignRole(_ context.Context, _ kernel.UserID, _ string) error {
	return nil
}
func (f *fakeAssignmentRepository) RolesForUser(_ context.Context, _ kernel.UserID) ([]*rbac.UserRole, error) {
	return nil, nil
}
func (f *fakeAssignmentRepository) EffectivePermissions(_ context.Context, userID kernel.UserID) ([]*rbac.Permission, error) {
	return f.effective[userID], nil
}

func TestEffectivePermissionsDedupesAndFiltersInactive(t *testing.T) {
	userID := kernel.NewUserID("u1")
	repo := &fakeAssignmentRepository{effective: map[kernel.UserID][]*rbac.Permission{
		userID: {
			{ID: "p1", Name: "users:read", IsActive: true},
			{ID: "p1", Name: "users:read", IsActive: true}, // duplicate, via two roles
			{ID: "p2", Name: "users:write", IsActive: false},
		},
	}}
	svc := New(repo)

	perms, err := svc.EffectivePermissions(context.Background(), userID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(perms) != 1 || perms[0].Name != "users:read" {
		t.Fatalf("expected exactly one deduplicated active permission, got %+v", perms)
	}
}

func TestHas(t *testing.T) {
	userID := kernel.NewUserID("u1")
	repo := &fakeAssignmentRepository{effective: map[kernel.UserID][]*rbac.Permission{
		userID: {{ID: "p1", Name: "users:read", IsActive: true}},
	}}
	svc := New(repo)

	ok, err := svc.Has(context.Background(), userID, "users:read")
	if err != nil || !ok {
		t.Fatalf("expected Has to report true for a held permission, got %v, %v", ok, err)
	}
	ok, err = svc.Has(context.Background(), userID, "users:write")
	if err != nil || ok {
		t.Fatalf("expected Has to report false for an unheld permission, got %v, %v", ok, err)
	}
}

func TestCheckBatch(t *testing.T) {
	userID := kernel.NewUserID("u1")
	repo := &fakeAssignmentRepository{effective: map[kernel.UserID][]*rbac.Permission{
		userID: {{ID: "p1", Name: "users:read", IsActive: true}},
	}}
	svc := New(repo)

	results, err := svc.CheckBatch(context.Background(), userID, []CheckRequest{
		{RequestID: "1", Resource: "users", Action: "read"},
		{RequestID: "2", Resource: "users", Action: "delete"},
	})
	if err != nil {
		t.Fatalf("check batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Allowed || results[0].ReasonCode != ReasonGranted {
		t.Fatalf("expected first request to be granted, got %+v", results[0])
	}
	if results[1].Allowed || results[1].ReasonCode != ReasonDenied {
		t.Fatalf("expected second request to be denied, got %+v", results[1])
	}
	if results[0].RequestID != "1" || results[1].RequestID != "2" {
		t.Fatal("expected RequestID to be echoed back in order")
	}
}
