package guildpost

import "testing"

func rolesFixture(t *testing.T) (*GroupStore, string) {
	t.Helper()
	gs, _ := newTestStore(t)
	g, err := gs.CreateGroup("Loot Circle", "", "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	addTestMember(t, gs, g.ID, "Bob", RoleCoOwner)
	addTestMember(t, gs, g.ID, "Carol", RoleAdmin)
	addTestMember(t, gs, g.ID, "Dave", RoleMod)
	addTestMember(t, gs, g.ID, "Eve", RoleMember)
	return gs, g.ID
}

func TestCanChangeRole(t *testing.T) {
	gs, gid := rolesFixture(t)

	cases := []struct {
		requester, target string
		want              bool
	}{
		{"Alice", "Bob", true},    // owner may change anyone
		{"Alice", "Eve", true},
		{"Alice", "Alice", false}, // never self
		{"Bob", "Carol", true},    // co-owner may change admin and below
		{"Bob", "Eve", true},
		{"Bob", "Alice", false},   // co-owner may not touch the owner
		{"Bob", "Bob", false},
		{"Carol", "Eve", false},   // admin may not change roles at all
		{"Dave", "Eve", false},
		{"Eve", "Dave", false},
		{"Mallory", "Eve", false}, // outsiders have no rank
	}
	for _, tc := range cases {
		if got := gs.CanChangeRole(gid, tc.requester, tc.target); got != tc.want {
			t.Errorf("CanChangeRole(%s, %s) = %v, want %v", tc.requester, tc.target, got, tc.want)
		}
	}
}

func TestSetMemberRole_NeverPromotesToOwner(t *testing.T) {
	gs, gid := rolesFixture(t)

	if err := gs.SetMemberRole(gid, "Alice", "Bob", RoleOwner); err != ErrNotPermitted {
		t.Errorf("promotion to owner should be refused, got %v", err)
	}
	if got := gs.GetMemberRole(gid, "Bob"); got != RoleCoOwner {
		t.Errorf("bob's role should be unchanged, got %v", got)
	}
}

func TestSetMemberRole(t *testing.T) {
	gs, gid := rolesFixture(t)

	if err := gs.SetMemberRole(gid, "Alice", "Eve", RoleMod); err != nil {
		t.Fatalf("promote eve: %v", err)
	}
	if got := gs.GetMemberRole(gid, "Eve"); got != RoleMod {
		t.Errorf("eve should be mod, got %v", got)
	}

	if err := gs.SetMemberRole(gid, "Dave", "Eve", RoleMember); err != ErrNotPermitted {
		t.Errorf("mod changing roles should be refused, got %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	gs, _ := newTestStore(t)
	g, _ := gs.CreateGroup("Loot Circle", "", "Alice")
	addTestMember(t, gs, g.ID, "Bob", RoleMember)

	if err := gs.TransferOwnership(g.ID, "Alice", "Bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := gs.GetMemberRole(g.ID, "Alice"); got != RoleCoOwner {
		t.Errorf("alice should be co-owner after transfer, got %v", got)
	}
	if got := gs.GetMemberRole(g.ID, "Bob"); got != RoleOwner {
		t.Errorf("bob should be owner after transfer, got %v", got)
	}

	// Alice no longer owns the group; a second transfer must fail.
	if err := gs.TransferOwnership(g.ID, "Alice", "Bob"); err != ErrNotPermitted {
		t.Errorf("second transfer should fail, got %v", err)
	}
}

func TestTransferOwnership_Validation(t *testing.T) {
	gs, _ := newTestStore(t)
	g, _ := gs.CreateGroup("Loot Circle", "", "Alice")
	addTestMember(t, gs, g.ID, "Bob", RoleMember)

	if err := gs.TransferOwnership(g.ID, "Alice", "Alice"); err != ErrNotPermitted {
		t.Errorf("self transfer should fail, got %v", err)
	}
	if err := gs.TransferOwnership(g.ID, "Alice", "Mallory"); err != ErrNotAMember {
		t.Errorf("transfer to outsider should fail, got %v", err)
	}
	if err := gs.TransferOwnership(g.ID, "Bob", "Alice"); err != ErrNotPermitted {
		t.Errorf("non-owner transfer should fail, got %v", err)
	}
}

func TestCanKick_RankGates(t *testing.T) {
	gs, gid := rolesFixture(t)

	// Owner can always kick downward.
	if !gs.CanKick(gid, "Alice", "Eve") {
		t.Error("owner should be able to kick a member")
	}
	if gs.CanKick(gid, "Alice", "Alice") {
		t.Error("nobody kicks themselves")
	}
	// Equal or higher rank is never kickable.
	if gs.CanKick(gid, "Carol", "Bob") {
		t.Error("admin should not kick a co-owner")
	}
	if gs.CanKick(gid, "Dave", "Dave2") {
		t.Error("unknown target should not be kickable")
	}
	// Members can't kick no matter the flags.
	if gs.CanKick(gid, "Eve", "Dave") {
		t.Error("member should never kick")
	}
}

func TestKickPermissionScenario(t *testing.T) {
	gs, _ := newTestStore(t)
	g, _ := gs.CreateGroup("Loot Circle", "", "Alice")
	addTestMember(t, gs, g.ID, "Bob", RoleMod)
	addTestMember(t, gs, g.ID, "Carol", RoleMember)

	// Mods start without the kick permission.
	if err := gs.RemoveMemberFromGroup(g.ID, "Bob", "Carol"); err != ErrNotPermitted {
		t.Fatalf("mod kick should be blocked by default, got %v", err)
	}
	if got := gs.GetMemberRole(g.ID, "Carol"); got != RoleMember {
		t.Fatal("carol should still be a member")
	}

	// Owner grants it; the identical call now succeeds.
	if err := gs.SetKickPermission(g.ID, "Alice", RoleMod, true); err != nil {
		t.Fatalf("set permission: %v", err)
	}
	if err := gs.RemoveMemberFromGroup(g.ID, "Bob", "Carol"); err != nil {
		t.Fatalf("mod kick after grant: %v", err)
	}
	if got := gs.GetMemberRole(g.ID, "Carol"); got != RoleNone {
		t.Errorf("carol should be gone, got %v", got)
	}
}

func TestSetKickPermission_StaffOnly(t *testing.T) {
	gs, gid := rolesFixture(t)

	if err := gs.SetKickPermission(gid, "Carol", RoleMod, true); err != ErrNotPermitted {
		t.Errorf("admin should not toggle kick gates, got %v", err)
	}
	if err := gs.SetKickPermission(gid, "Bob", RoleMod, true); err != nil {
		t.Errorf("co-owner should toggle kick gates: %v", err)
	}
	if err := gs.SetKickPermission(gid, "Alice", RoleOwner, false); err != ErrNotPermitted {
		t.Errorf("owner rank has no gate to toggle, got %v", err)
	}
}

func TestLeaveGroup(t *testing.T) {
	gs, gid := rolesFixture(t)

	if err := gs.LeaveGroup(gid, "Eve"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := gs.GetMemberRole(gid, "Eve"); got != RoleNone {
		t.Errorf("eve should be gone, got %v", got)
	}

	// The owner has to hand over the keys first.
	if err := gs.LeaveGroup(gid, "Alice"); err != ErrNotPermitted {
		t.Errorf("owner leave should be refused, got %v", err)
	}
	if err := gs.LeaveGroup(gid, "Mallory"); err != ErrNotAMember {
		t.Errorf("outsider leave should fail, got %v", err)
	}
}
