// Package rbacsrv implements effective-permission resolution and checks:
// resolution, single checks, and batch checks.
package rbacsrv

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
)

// ReasonCode is the batch-check outcome vocabulary.
type ReasonCode string

const (
	ReasonGranted ReasonCode = "PERMISSION_GRANTED"
	ReasonDenied  ReasonCode = "PERMISSION_DENIED"
)

// CheckRequest is one item of a batch permission check.
type CheckRequest struct {
	RequestID string // optional caller-supplied correlation id, echoed back
	Resource  string
	Action    string
}

// CheckResult is the parallel-list outcome for one CheckRequest.
type CheckResult struct {
	RequestID string
	Allowed   bool
	ReasonCode ReasonCode
	Message   string
}

// Service implements the RBAC/permission engine.
type Service struct {
	assignments rbac.AssignmentRepository
}

func New(assignments rbac.AssignmentRepository) *Service {
	return &Service{assignments: assignments}
}

// EffectivePermissions returns the union, deduplicated by permission id, of
// active Permissions reachable via the user's active UserRoles.
func (s *Service) EffectivePermissions(ctx context.Context, userID kernel.UserID) ([]*rbac.Permission, error) {
	perms, err := s.assignments.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(perms))
	deduped := make([]*rbac.Permission, 0, len(perms))
	for _, p := range perms {
		if !p.IsActive {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		deduped = append(deduped, p)
	}
	return deduped, nil
}

// EffectivePermissionNames is EffectivePermissions projected to the
// "resource:action" strings consumed by kernel.AuthContext and the bearer
// middleware.
func (s *Service) EffectivePermissionNames(ctx context.Context, userID kernel.UserID) ([]string, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.Name
	}
	return names, nil
}

// Has reports whether a user holds the named permission.
func (s *Service) Has(ctx context.Context, userID kernel.UserID, permission string) (bool, error) {
	names, err := s.EffectivePermissionNames(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == permission {
			return true, nil
		}
	}
	return false, nil
}

// CheckBatch evaluates a list of {resource, action} pairs against a user's
// effective permission set in one resolution pass and returns one result per
// request, in order, echoing RequestID.
func (s *Service) CheckBatch(ctx context.Context, userID kernel.UserID, requests []CheckRequest) ([]CheckResult, error) {
	names, err := s.EffectivePermissionNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(names))
	for _, n := range names {
		held[n] = struct{}{}
	}

	results := make([]CheckResult, len(requests))
	for i, req := range requests {
		permission := req.Resource + ":" + req.Action
		_, ok := held[permission]
		result := CheckResult{RequestID: req.RequestID}
		if ok {
			result.Allowed = true
			result.ReasonCode = ReasonGranted
			result.Message = "permission granted"
		} else {
			result.Allowed = false
			result.ReasonCode = ReasonDenied
			result.Message = "permission denied"
		}
		results[i] = result
	}
	return results, nil
}
