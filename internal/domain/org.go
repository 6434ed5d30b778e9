package domain

import (
	"fmt"
	"time"
)

// OrgUnitKind is the tier of an organizational unit.
type OrgUnitKind string

const (
	OrgUnitCampus     OrgUnitKind = "CAMPUS"
	OrgUnitCollege    OrgUnitKind = "COLLEGE"
	OrgUnitDepartment OrgUnitKind = "DEPARTMENT"
)

// ScopeLevel orders the three tiers; a lower value is higher in the hierarchy.
type ScopeLevel int

const (
	ScopeNone ScopeLevel = iota
	ScopeCampus
	ScopeCollege
	ScopeDepartment
)

// Scope locates a ticket or principal in the campus → college → department
// hierarchy. Deeper identifiers imply the shallower ones are set.
type Scope struct {
	CampusID     string `json:"campus_id,omitempty" yaml:"campus_id"`
	CollegeID    string `json:"college_id,omitempty" yaml:"college_id"`
	DepartmentID string `json:"department_id,omitempty" yaml:"department_id"`
}

// Level returns the deepest tier the scope pins down.
func (s Scope) Level() ScopeLevel {
	switch {
	case s.DepartmentID != "":
		return ScopeDepartment
	case s.CollegeID != "":
		return ScopeCollege
	case s.CampusID != "":
		return ScopeCampus
	}
	return ScopeNone
}

// Parent drops the deepest tier.
func (s Scope) Parent() Scope {
	switch s.Level() {
	case ScopeDepartment:
		return Scope{CampusID: s.CampusID, CollegeID: s.CollegeID}
	case ScopeCollege:
		return Scope{CampusID: s.CampusID}
	}
	return Scope{}
}

// Validate rejects scopes with a gap, e.g. a department without a college.
func (s Scope) Validate() error {
	if s.DepartmentID != "" && s.CollegeID == "" {
		return fmt.Errorf("scope: department %s without college", s.DepartmentID)
	}
	if s.CollegeID != "" && s.CampusID == "" {
		return fmt.Errorf("scope: college %s without campus", s.CollegeID)
	}
	return nil
}

// Contains reports whether s is equal to or an ancestor of target. It walks
// target upward until both sit at the same tier. An empty scope contains
// nothing.
func (s Scope) Contains(target Scope) bool {
	level := s.Level()
	if level == ScopeNone {
		return false
	}
	for target.Level() > level {
		target = target.Parent()
	}
	return target.Level() == level && target == s
}

func (s Scope) String() string {
	switch s.Level() {
	case ScopeDepartment:
		return s.CampusID + "/" + s.CollegeID + "/" + s.DepartmentID
	case ScopeCollege:
		return s.CampusID + "/" + s.CollegeID
	case ScopeCampus:
		return s.CampusID
	}
	return "-"
}

// OrgUnit is a node in the organizational tree with a back-reference to its
// parent.
type OrgUnit struct {
	ID        string
	Kind      OrgUnitKind
	Name      string
	ParentID  *string
	Parent    *OrgUnit
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Scope derives the full scope of the unit by walking its parents.
func (u *OrgUnit) Scope() Scope {
	var scope Scope
	for node := u; node != nil; node = node.Parent {
		switch node.Kind {
		case OrgUnitCampus:
			scope.CampusID = node.ID
		case OrgUnitCollege:
			scope.CollegeID = node.ID
		case OrgUnitDepartment:
			scope.DepartmentID = node.ID
		}
	}
	return scope
}

// OrgTree indexes org units by ID after linking parents.
type OrgTree struct {
	units map[string]*OrgUnit
}

var parentKind = map[OrgUnitKind]OrgUnitKind{
	OrgUnitCollege:    OrgUnitCampus,
	OrgUnitDepartment: OrgUnitCollege,
}

// NewOrgTree links units to their parents and validates tier nesting.
func NewOrgTree(units []OrgUnit) (*OrgTree, error) {
	tree := &OrgTree{units: make(map[string]*OrgUnit, len(units))}
	for i := range units {
		unit := units[i]
		if _, exists := tree.units[unit.ID]; exists {
			return nil, fmt.Errorf("org tree: duplicate unit %s", unit.ID)
		}
		tree.units[unit.ID] = &unit
	}
	for _, unit := range tree.units {
		want, needsParent := parentKind[unit.Kind]
		if !needsParent {
			if unit.ParentID != nil {
				return nil, fmt.Errorf("org tree: campus %s cannot have a parent", unit.ID)
			}
			continue
		}
		if unit.ParentID == nil {
			return nil, fmt.Errorf("org tree: %s %s has no parent", unit.Kind, unit.ID)
		}
		parent, ok := tree.units[*unit.ParentID]
		if !ok {
			return nil, fmt.Errorf("org tree: %s references unknown parent %s", unit.ID, *unit.ParentID)
		}
		if parent.Kind != want {
			return nil, fmt.Errorf("org tree: %s %s must sit under a %s, got %s", unit.Kind, unit.ID, want, parent.Kind)
		}
		unit.Parent = parent
	}
	return tree, nil
}

// Unit returns the node for id.
func (t *OrgTree) Unit(id string) (*OrgUnit, bool) {
	if t == nil {
		return nil, false
	}
	unit, ok := t.units[id]
	return unit, ok
}

// DepartmentScope resolves a department to its full scope.
func (t *OrgTree) DepartmentScope(departmentID string) (Scope, bool) {
	unit, ok := t.Unit(departmentID)
	if !ok || unit.Kind != OrgUnitDepartment || !unit.IsActive {
		return Scope{}, false
	}
	return unit.Scope(), true
}
