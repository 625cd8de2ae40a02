package autoagent

import (
	"fmt"
	"strings"
)

// Role is a responsibility slot bound to one configured client per agent.
type Role string

const (
	RoleTaskAnalyzer      Role = "TaskAnalyzer"
	RolePrecisionExecutor Role = "PrecisionExecutor"
	RoleQualitySupervisor Role = "QualitySupervisor"
	RoleResponseAssistant Role = "ResponseAssistant"
	RoleDefault           Role = "Default"
)

// Roles lists every role in resolution order.
func Roles() []Role {
	return []Role{
		RoleTaskAnalyzer,
		RolePrecisionExecutor,
		RoleQualitySupervisor,
		RoleResponseAssistant,
		RoleDefault,
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts the canonical role name as well as snake_case and
// upper-case spellings such as "task_analyzer" or "TASK_ANALYZER".
func ParseRole(s string) (Role, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
	key = strings.TrimSuffix(key, "client")
	for _, r := range Roles() {
		if strings.ToLower(string(r)) == key {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ClientHandle identifies one resolved reasoning client. Handles are produced
// by an AgentClientRegistry and are only meaningful to the registry that
// issued them.
type ClientHandle struct {
	ClientID string
	Model    string

	// StructuredOutput marks clients that should be asked for JSON output.
	StructuredOutput bool
}

// RoleClientMap holds the handles resolved for one run. It is filled once
// during INIT and read-only afterwards.
type RoleClientMap map[Role]ClientHandle

// Lookup returns the handle bound to role.
func (m RoleClientMap) Lookup(role Role) (ClientHandle, bool) {
	h, ok := m[role]
	return h, ok
}

// Roles returns the bound roles in resolution order.
func (m RoleClientMap) Roles() []Role {
	var out []Role
	for _, r := range Roles() {
		if _, ok := m[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// First returns the first bound role among preferred, falling back to any
// bound role in resolution order.
func (m RoleClientMap) First(preferred ...Role) (Role, ClientHandle, bool) {
	for _, set := range [][]Role{preferred, Roles()} {
		for _, r := range set {
			if h, ok := m[r]; ok {
				return r, h, true
			}
		}
	}
	return "", ClientHandle{}, false
}
