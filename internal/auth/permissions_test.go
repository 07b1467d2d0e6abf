package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDeviceRead, true},
		{RoleViewer, PermDeviceOperate, false},
		{RoleViewer, PermAuditRead, false},
		{RoleOperator, PermDeviceRead, true},
		{RoleOperator, PermDeviceOperate, true},
		{RoleOperator, PermAuditRead, true},
		{Role("admin"), PermDeviceRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleOperator)
	perms[0] = "tampered"
	if PermissionsForRole(RoleOperator)[0] == "tampered" {
		t.Error("PermissionsForRole() exposed the internal slice")
	}
	if PermissionsForRole("unknown") != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}
