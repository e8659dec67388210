package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a closed, totally ordered privilege level. Higher values carry
// strictly more privilege.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleStaff
	RoleManager
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleUser:    "user",
	RoleStaff:   "staff",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r carries at least the privilege of min.
func (r Role) AtLeast(min Role) bool { return r >= min }

// MarshalJSON emits the role name, matching what the store persists.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("auth: cannot marshal unknown role %d", uint8(r))
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRole(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole maps a stored role name back to the enum.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Operation identifies a protected action.
type Operation string

const (
	OpRead             Operation = "read"
	OpWrite            Operation = "write"
	OpManageEvents     Operation = "manage_events"
	OpManageMembers    Operation = "manage_members"
	OpManageFacilities Operation = "manage_facilities"
	OpViewReports      Operation = "view_reports"
	OpCreateBookings   Operation = "create_bookings"
	OpViewOwnData      Operation = "view_own_data"
	OpProvisionUsers   Operation = "provision_users"
	OpResetPasswords   Operation = "reset_passwords"
	OpViewAuditLog     Operation = "view_audit_log"
)

// Operations lists every protected action the policy must cover.
var Operations = []Operation{
	OpRead, OpWrite,
	OpManageEvents, OpManageMembers, OpManageFacilities,
	OpViewReports, OpCreateBookings, OpViewOwnData,
	OpProvisionUsers, OpResetPasswords, OpViewAuditLog,
}

// Policy maps operations to the minimum role required, or to an explicit
// allow-set for operations that do not follow the ordering. Check is pure;
// auditing a denial is the caller's job.
type Policy struct {
	minRole  map[Operation]Role
	allowSet map[Operation]map[Role]bool
}

// NewPolicy returns the default facility policy. Staff may write and run
// events but not touch member records; bookings follow an explicit
// allow-set because managers handle them through a different surface.
func NewPolicy() *Policy {
	return &Policy{
		minRole: map[Operation]Role{
			OpRead:             RoleUser,
			OpViewOwnData:      RoleUser,
			OpWrite:            RoleStaff,
			OpManageEvents:     RoleStaff,
			OpViewReports:      RoleStaff,
			OpManageMembers:    RoleManager,
			OpManageFacilities: RoleManager,
			OpProvisionUsers:   RoleAdmin,
			OpResetPasswords:   RoleAdmin,
			OpViewAuditLog:     RoleAdmin,
		},
		allowSet: map[Operation]map[Role]bool{
			OpCreateBookings: {RoleUser: true, RoleStaff: true, RoleAdmin: true},
		},
	}
}

// Check reports whether role may perform op. Unknown operations are
// denied; SelfCheck rejects them before the process serves traffic.
func (p *Policy) Check(role Role, op Operation) bool {
	if !role.Valid() {
		return false
	}
	if set, ok := p.allowSet[op]; ok {
		return set[role]
	}
	min, ok := p.minRole[op]
	if !ok {
		return false
	}
	return role.AtLeast(min)
}

// SelfCheck verifies at startup that every declared operation has exactly
// one policy entry, so adding an operation without a rule fails loudly
// instead of silently denying (or worse, defaulting permissive).
func (p *Policy) SelfCheck() error {
	for _, op := range Operations {
		_, hasMin := p.minRole[op]
		_, hasSet := p.allowSet[op]
		if !hasMin && !hasSet {
			return fmt.Errorf("auth: operation %q has no policy entry", op)
		}
		if hasMin && hasSet {
			return fmt.Errorf("auth: operation %q has both a min-role and an allow-set entry", op)
		}
	}
	for op := range p.minRole {
		if !containsOp(op) {
			return fmt.Errorf("auth: policy entry for undeclared operation %q", op)
		}
	}
	for op := range p.allowSet {
		if !containsOp(op) {
			return fmt.Errorf("auth: policy entry for undeclared operation %q", op)
		}
	}
	return nil
}

func containsOp(op Operation) bool {
	for _, known := range Operations {
		if known == op {
			return true
		}
	}
	return false
}
