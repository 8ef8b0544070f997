// Package tier defines the security classification model: the ordered set
// of security tiers attached to documents and chunks, the user roles that
// map onto them, and the access resolution used by the query pipeline.
//
// Access is cumulative: a role cleared up to tier X may read every tier at
// or below X. Resolution is fail-closed: an unauthenticated caller or an
// unrecognised role always resolves to the lowest tier, so a new role can
// never gain elevated access by omission.
package tier

// Tier is an ordered security classification. The string values are
// stable wire/storage identifiers persisted on documents, chunks, and
// audit records.
type Tier string

const (
	// Low is the default tier and the only tier visible to anonymous callers.
	Low Tier = "LOW"
	// Mid covers internal material.
	Mid Tier = "MID"
	// High covers restricted material.
	High Tier = "HIGH"
	// VeryHigh covers the most sensitive material.
	VeryHigh Tier = "VERY_HIGH"
)

// ordered lists all tiers from lowest to highest. Rank and the cumulative
// expansion in Resolve derive from this single ordering.
var ordered = []Tier{Low, Mid, High, VeryHigh}

// Rank returns the position of t in the tier ordering (LOW=0 … VERY_HIGH=3).
// Unknown tiers rank below LOW so they never grant access.
func (t Tier) Rank() int {
	for i, v := range ordered {
		if v == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// All returns every tier from lowest to highest. The returned slice is a
// copy; callers may mutate it freely.
func All() []Tier {
	out := make([]Tier, len(ordered))
	copy(out, ordered)
	return out
}

// Role identifies an organisational role carried by an authenticated
// identity. Roles are assigned by the upstream identity provider; this
// package only interprets them.
type Role string

const (
	RoleGuest         Role = "GUEST"
	RoleEmployee      Role = "EMPLOYEE"
	RoleManager       Role = "MANAGER"
	RoleVicePresident Role = "VICE_PRESIDENT"
	RoleCEO           Role = "CEO"
)

// roleCeiling maps each role to the highest tier it may read.
// Roles absent from this table resolve to Low.
var roleCeiling = map[Role]Tier{
	RoleGuest:         Low,
	RoleEmployee:      Mid,
	RoleManager:       High,
	RoleVicePresident: VeryHigh,
	RoleCEO:           VeryHigh,
}

// Identity is the resolved caller of a request. Authentication itself is
// out of scope; an upstream gateway establishes the identity and the
// service trusts it.
type Identity struct {
	// ID is the stable user identifier, used on audit records.
	ID int64
	// Email is informational only.
	Email string
	// Role determines the tier ceiling via Resolve.
	Role Role
}

// Resolve derives the set of tiers id may query and the single highest
// tier in that set.
//
// A nil identity (anonymous request) and an unknown role both resolve to
// ([LOW], LOW). The returned slice is ordered lowest to highest.
//
// Resolve is pure and must be called fresh per request; a role can change
// between requests, so the result is never cached per identity.
func Resolve(id *Identity) ([]Tier, Tier) {
	if id == nil {
		return []Tier{Low}, Low
	}

	ceiling, ok := roleCeiling[id.Role]
	if !ok {
		ceiling = Low
	}

	allowed := make([]Tier, 0, len(ordered))
	for _, t := range ordered {
		if t.Rank() <= ceiling.Rank() {
			allowed = append(allowed, t)
		}
	}
	return allowed, ceiling
}
