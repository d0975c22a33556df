// Package authz holds the immutable mapping from role tags to permission
// strings. A Policy is built once at startup and only read afterwards.
package authz

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"go-session-auth/internal/model"
)

const (
	RoleUser    = "USER"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

const (
	AdminRead        = "admin:read"
	AdminUpdate      = "admin:update"
	AdminCreate      = "admin:create"
	AdminDelete      = "admin:delete"
	ManagementRead   = "management:read"
	ManagementUpdate = "management:update"
	ManagementCreate = "management:create"
	ManagementDelete = "management:delete"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

type document struct {
	Roles map[string][]string `yaml:"roles"`
}

type Policy struct {
	authorities map[string][]string
}

// Default returns the built-in mapping.
func Default() *Policy {
	p, err := Parse(defaultRolesYAML)
	if err != nil {
		panic(fmt.Sprintf("authz: embedded roles.yaml is invalid: %v", err))
	}
	return p
}

// Load reads the mapping from path, or returns the built-in one when path is
// empty.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("parse roles: no roles defined")
	}

	authorities := make(map[string][]string, len(doc.Roles))
	for rawRole, perms := range doc.Roles {
		role := normalize(rawRole)
		if role == "" {
			return nil, fmt.Errorf("parse roles: empty role name")
		}
		if _, dup := authorities[role]; dup {
			return nil, fmt.Errorf("parse roles: duplicate role %q", role)
		}

		seen := map[string]struct{}{}
		set := make([]string, 0, len(perms)+1)
		for _, perm := range perms {
			perm = strings.TrimSpace(perm)
			if perm == "" {
				continue
			}
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			set = append(set, perm)
		}
		sort.Strings(set)
		set = append(set, model.RolePrefix+role)
		authorities[role] = set
	}

	return &Policy{authorities: authorities}, nil
}

// Resolve canonicalises a role name and reports whether it is known.
func (p *Policy) Resolve(role string) (string, bool) {
	role = normalize(role)
	_, ok := p.authorities[role]
	return role, ok
}

// Authorities returns the permissions of role followed by its ROLE_ tag.
// Unknown roles have no authorities.
func (p *Policy) Authorities(role string) []string {
	set, ok := p.authorities[normalize(role)]
	if !ok {
		return nil
	}
	out := make([]string, len(set))
	copy(out, set)
	return out
}

func (p *Policy) Roles() []string {
	roles := make([]string, 0, len(p.authorities))
	for role := range p.authorities {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func normalize(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}
