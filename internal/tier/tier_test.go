package tier

import (
	"slices"
	"testing"
)

func TestResolve_Anonymous(t *testing.T) {
	t.Parallel()
	allowed, max := Resolve(nil)
	if !slices.Equal(allowed, []Tier{Low}) {
		t.Errorf("allowed: want [LOW], got %v", allowed)
	}
	if max != Low {
		t.Errorf("max: want LOW, got %s", max)
	}
}

func TestResolve_Roles(t *testing.T) {
	t.Parallel()
	cases := []struct {
		role    Role
		allowed []Tier
		max     Tier
	}{
		{RoleGuest, []Tier{Low}, Low},
		{RoleEmployee, []Tier{Low, Mid}, Mid},
		{RoleManager, []Tier{Low, Mid, High}, High},
		{RoleVicePresident, []Tier{Low, Mid, High, VeryHigh}, VeryHigh},
		{RoleCEO, []Tier{Low, Mid, High, VeryHigh}, VeryHigh},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			t.Parallel()
			allowed, max := Resolve(&Identity{ID: 1, Role: tc.role})
			if !slices.Equal(allowed, tc.allowed) {
				t.Errorf("allowed: want %v, got %v", tc.allowed, allowed)
			}
			if max != tc.max {
				t.Errorf("max: want %s, got %s", tc.max, max)
			}
		})
	}
}

func TestResolve_UnknownRoleFailsClosed(t *testing.T) {
	t.Parallel()
	allowed, max := Resolve(&Identity{ID: 7, Role: Role("INTERN")})
	if !slices.Equal(allowed, []Tier{Low}) {
		t.Errorf("allowed: want [LOW], got %v", allowed)
	}
	if max != Low {
		t.Errorf("max: want LOW, got %s", max)
	}
}

func TestTier_Rank(t *testing.T) {
	t.Parallel()
	if Low.Rank() >= Mid.Rank() || Mid.Rank() >= High.Rank() || High.Rank() >= VeryHigh.Rank() {
		t.Error("tier ordering violated")
	}
	if Tier("BOGUS").Rank() != -1 {
		t.Errorf("unknown tier should rank -1, got %d", Tier("BOGUS").Rank())
	}
	if Tier("BOGUS").Valid() {
		t.Error("unknown tier should not be valid")
	}
}
