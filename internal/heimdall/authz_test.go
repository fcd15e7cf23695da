package heimdall

import (
	"testing"
	"time"
)

func TestBaseRolesProvisioned(t *testing.T) {
	m := NewRoleManager(time.Minute)
	for _, name := range []string{"admin", "user", "guest"} {
		if _, ok := m.roles[name]; !ok {
			t.Fatalf("expected base role %q to be provisioned", name)
		}
	}
}

func TestRoleInheritance(t *testing.T) {
	m := NewRoleManager(time.Minute)
	if err := m.AddRole("operator", []Permission{{Resource: "capability", Action: "register"}}, []string{"user"}); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	m.AssignRole("device-1", "operator")

	if !m.CheckPermission("device-1", "capability", "register", time.Now(), nil, "") {
		t.Fatalf("expected direct operator permission to match")
	}
	if !m.CheckPermission("device-1", "connection", "establish", time.Now(), nil, "") {
		t.Fatalf("expected inherited user permission to match")
	}
	if m.CheckPermission("device-1", "billing", "charge", time.Now(), nil, "") {
		t.Fatalf("expected unrelated permission to be denied")
	}
}

func TestRoleCycleRejected(t *testing.T) {
	m := NewRoleManager(time.Minute)
	if err := m.AddRole("a", nil, []string{"user"}); err != nil {
		t.Fatalf("AddRole a: %v", err)
	}
	if err := m.AddRole("b", nil, []string{"a"}); err != nil {
		t.Fatalf("AddRole b: %v", err)
	}
	if err := m.AddRole("a", nil, []string{"b"}); err == nil {
		t.Fatalf("expected cycle error when a -> b -> a")
	}
}

func TestConditionalGrantNeverUpgradesBaseDeny(t *testing.T) {
	m := NewRoleManager(time.Minute)
	m.GrantConditional("device-2", ConditionalGrant{
		Permission:     Permission{Resource: "billing", Action: "charge"},
		AllowedSources: []string{"10.0.0.1"},
	})

	if m.CheckPermission("device-2", "billing", "charge", time.Now(), nil, "10.0.0.2") {
		t.Fatalf("expected denial: source address does not match allowed list")
	}
	if !m.CheckPermission("device-2", "billing", "charge", time.Now(), nil, "10.0.0.1") {
		t.Fatalf("expected allow: source address matches allowed list")
	}
}
