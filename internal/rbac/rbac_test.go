package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionRestore, true},
		{RoleAdmin, ActionWrite, true},
		{RoleTeacher, ActionWrite, true},
		{RoleTeacher, ActionHealthCheck, true},
		{RoleTeacher, ActionRestore, false},
		{RoleStudent, ActionWrite, true},
		{RoleStudent, ActionHealthCheck, false},
		{RoleStudent, ActionRestore, false},
		{RoleReplica, ActionWrite, true},
		{RoleReplica, ActionRestore, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin should normalize to RoleAdmin")
	}
	if Normalize("") != RoleStudent {
		t.Fatal("unknown roles should normalize to the least-privileged role")
	}
}
