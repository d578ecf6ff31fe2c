package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ActorKind string

const (
	ActorUser   ActorKind = "USER"
	ActorAdmin  ActorKind = "ADMIN"
	ActorSystem ActorKind = "SYSTEM"
)

// Role is ordered: a higher role holds every capability of the lower ones.
type Role int

const (
	RoleUser Role = iota
	RoleSupport
	RoleAdmin
	RoleOps
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleUser:       "USER",
	RoleSupport:    "SUPPORT",
	RoleAdmin:      "ADMIN",
	RoleOps:        "OPS",
	RoleSuperAdmin: "SUPER_ADMIN",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole accepts the upper-case role names used in tokens.
func ParseRole(s string) (Role, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return RoleUser, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Actor identifies who caused a state change.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
	Role Role      `json:"role"`
}

// System is the actor for scheduled and webhook-driven changes.
var System = Actor{Kind: ActorSystem, ID: "system", Role: RoleSuperAdmin}

func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}
