package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := Default()

	require.Equal(t, []string{RoleAdmin, RoleManager, RoleUser}, p.Roles())
	require.Equal(t, []string{"ROLE_USER"}, p.Authorities(RoleUser))

	manager := p.Authorities("manager")
	require.Contains(t, manager, ManagementRead)
	require.Contains(t, manager, "ROLE_MANAGER")
	require.NotContains(t, manager, AdminRead)
	require.Len(t, manager, 5)

	admin := p.Authorities(RoleAdmin)
	require.Contains(t, admin, AdminDelete)
	require.Contains(t, admin, ManagementCreate)
	require.Equal(t, "ROLE_ADMIN", admin[len(admin)-1])
	require.Len(t, admin, 9)
}

func TestAuthoritiesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := Default()
	first := p.Authorities(RoleAdmin)
	first[0] = "tampered"

	require.NotContains(t, p.Authorities(RoleAdmin), "tampered")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	p := Default()

	role, ok := p.Resolve(" admin ")
	require.True(t, ok)
	require.Equal(t, RoleAdmin, role)

	_, ok = p.Resolve("root")
	require.False(t, ok)
	require.Nil(t, p.Authorities("root"))
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  auditor: [audit:read, audit:read]\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"audit:read", "ROLE_AUDITOR"}, p.Authorities("AUDITOR"))
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("roles: {}\n"))
	require.Error(t, err)

	_, err = Parse([]byte("roles: [\n"))
	require.Error(t, err)
}
