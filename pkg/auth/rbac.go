package auth

import (
	"sync"
)

// Role represents a user role
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleBilling  Role = "billing"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Permission represents a permission
type Permission string

const (
	// Wallet permissions
	PermissionReadWallet   Permission = "wallet:read"
	PermissionAdjustWallet Permission = "wallet:adjust"

	// Policy permissions
	PermissionManagePolicies Permission = "policy:manage"

	// Worker permissions
	PermissionManageWorkers Permission = "worker:manage"

	// Execution permissions
	PermissionDispatch Permission = "execution:dispatch"
)

// RBACManager manages role-based access control
type RBACManager struct {
	mu              sync.RWMutex
	rolePermissions map[Role][]Permission
}

// NewRBACManager creates a new RBAC manager
func NewRBACManager() *RBACManager {
	m := &RBACManager{
		rolePermissions: make(map[Role][]Permission),
	}
	m.rolePermissions[RoleAdmin] = []Permission{
		PermissionReadWallet,
		PermissionAdjustWallet,
		PermissionManagePolicies,
		PermissionManageWorkers,
		PermissionDispatch,
	}
	m.rolePermissions[RoleBilling] = []Permission{
		PermissionReadWallet,
		PermissionAdjustWallet,
		PermissionManagePolicies,
	}
	m.rolePermissions[RoleOperator] = []Permission{
		PermissionManageWorkers,
	}
	m.rolePermissions[RoleUser] = []Permission{
		PermissionReadWallet,
		PermissionDispatch,
	}
	return m
}

// HasPermission checks if a role has a specific permission
func (m *RBACManager) HasPermission(role Role, permission Permission) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckUserPermission checks if a user (with multiple roles) has a permission
func (m *RBACManager) CheckUserPermission(roles []string, permission Permission) bool {
	for _, r := range roles {
		if m.HasPermission(Role(r), permission) {
			return true
		}
	}
	return false
}

// AddPermissionToRole adds a permission to a role
func (m *RBACManager) AddPermissionToRole(role Role, permission Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.rolePermissions[role] {
		if p == permission {
			return
		}
	}
	m.rolePermissions[role] = append(m.rolePermissions[role], permission)
}
