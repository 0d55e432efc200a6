package domain

import "time"

// UserRole enumerates directory roles relevant to case handling.
type UserRole string

const (
	RoleSuperAdmin   UserRole = "super_admin"
	RoleCompanyAdmin UserRole = "company_admin"
	RoleBranchAdmin  UserRole = "branch_admin"
	RoleInvestigator UserRole = "investigator"
)

// User is a directory entry resolved for recipients, assignment targets and API callers.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      UserRole
	CompanyID *string
	BranchID  *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the user administers cases at some scope.
func (u *User) IsAdmin() bool {
	switch u.Role {
	case RoleSuperAdmin, RoleCompanyAdmin, RoleBranchAdmin:
		return true
	}
	return false
}

// CanAccessCase reports whether the user's scope covers the case.
func (u *User) CanAccessCase(c *Case) bool {
	if u == nil || c == nil || !u.Active {
		return false
	}
	if u.Role == RoleSuperAdmin {
		return true
	}
	if u.CompanyID == nil || *u.CompanyID != c.CompanyID {
		return false
	}
	if u.Role == RoleBranchAdmin && u.BranchID != nil {
		return c.BranchID != nil && *c.BranchID == *u.BranchID
	}
	return true
}
