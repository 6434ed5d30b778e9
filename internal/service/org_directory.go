package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spec-kit/campus-helpdesk/internal/domain"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	apperrors "github.com/spec-kit/campus-helpdesk/pkg/util/errorutil"
)

// DepartmentResolver maps a department ID to its full scope.
type DepartmentResolver interface {
	DepartmentScope(ctx context.Context, departmentID string) (domain.Scope, error)
}

// OrgDirectory caches the org tree read from the repository. Unknown
// departments trigger one reload so newly added units resolve without a
// restart.
type OrgDirectory struct {
	repo repository.OrgRepository
	mu   sync.RWMutex
	tree *domain.OrgTree
}

// NewOrgDirectory creates the directory; the tree is loaded lazily.
func NewOrgDirectory(repo repository.OrgRepository) *OrgDirectory {
	return &OrgDirectory{repo: repo}
}

// Refresh reloads the tree from the repository.
func (d *OrgDirectory) Refresh(ctx context.Context) error {
	units, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load org units: %w", err)
	}
	tree, err := domain.NewOrgTree(units)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.tree = tree
	d.mu.Unlock()
	return nil
}

func (d *OrgDirectory) lookup(departmentID string) (domain.Scope, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.DepartmentScope(departmentID)
}

// DepartmentScope resolves an active department.
func (d *OrgDirectory) DepartmentScope(ctx context.Context, departmentID string) (domain.Scope, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return domain.Scope{}, apperrors.NewValidationError("department_id required", nil)
	}
	if scope, ok := d.lookup(departmentID); ok {
		return scope, nil
	}
	if err := d.Refresh(ctx); err != nil {
		return domain.Scope{}, apperrors.MapError(err)
	}
	if scope, ok := d.lookup(departmentID); ok {
		return scope, nil
	}
	return domain.Scope{}, apperrors.NewValidationError("unknown or inactive department", map[string]any{"department_id": departmentID})
}
