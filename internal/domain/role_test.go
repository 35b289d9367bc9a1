package domain

import "testing"

func TestParseRole(t *testing.T) {
	cases := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleUser, false},
		{"  VIP ", RoleVIP, false},
		{"owner", RoleOwner, false},
		{"banned", RoleBanned, false},
		{"superuser", "", true},
	}
	for _, tc := range cases {
		got, err := ParseRole(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseRole(%q) err=%v wantErr=%v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseRole(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestPrivilegeOrder(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		if Roles[i-1].Privilege() >= Roles[i].Privilege() {
			t.Fatalf("%s should rank below %s", Roles[i-1], Roles[i])
		}
	}
	if !RoleOwner.AtLeast(RoleAdmin) || RoleVIP.AtLeast(RoleAdmin) {
		t.Fatalf("AtLeast ordering broken")
	}
	if Role("weird").Valid() {
		t.Fatalf("unknown role reported valid")
	}
}

func TestIsStaff(t *testing.T) {
	for _, r := range Roles {
		want := r == RoleAdmin || r == RoleOwner
		if r.IsStaff() != want {
			t.Fatalf("%s.IsStaff() = %v", r, r.IsStaff())
		}
	}
}
