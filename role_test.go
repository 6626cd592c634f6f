package guildpost

import (
	"encoding/json"
	"testing"
)

func TestParseRole_CaseInsensitive(t *testing.T) {
	cases := map[string]Role{
		"owner":    RoleOwner,
		"OWNER":    RoleOwner,
		"Co-Owner": RoleCoOwner,
		"coowner":  RoleCoOwner,
		"Admin":    RoleAdmin,
		"moderator": RoleMod,
		" member ": RoleMember,
		"wizard":   RoleNone,
		"":         RoleNone,
	}
	for input, want := range cases {
		if got := ParseRole(input); got != want {
			t.Errorf("ParseRole(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRole_TotalOrder(t *testing.T) {
	ranks := []Role{RoleMember, RoleMod, RoleAdmin, RoleCoOwner, RoleOwner}
	for i := 1; i < len(ranks); i++ {
		if !ranks[i].Outranks(ranks[i-1]) {
			t.Errorf("expected %v to outrank %v", ranks[i], ranks[i-1])
		}
		if ranks[i-1].Outranks(ranks[i]) {
			t.Errorf("did not expect %v to outrank %v", ranks[i-1], ranks[i])
		}
	}

	if RoleNone.IsValid() {
		t.Error("RoleNone should not be a valid rank")
	}
	if RoleNone.AtLeast(RoleMember) {
		t.Error("RoleNone should fail every rank check")
	}
}

func TestRole_JSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(RoleCoOwner)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"co-owner"` {
		t.Errorf("expected string form, got %s", raw)
	}

	var r Role
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r != RoleCoOwner {
		t.Errorf("round trip changed role: %v", r)
	}

	// Numeric form from older records still decodes.
	if err := json.Unmarshal([]byte("5"), &r); err != nil {
		t.Fatalf("unmarshal numeric: %v", err)
	}
	if r != RoleOwner {
		t.Errorf("numeric decode: got %v, want owner", r)
	}
}
