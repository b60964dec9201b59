// Package access implements role-gated permission checks. Each
// state-mutating engine operation consults Require before touching state.
package access

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/liquidity-pool/internal/model"
)

// Checker answers role membership questions.
type Checker interface {
	HasRole(role model.Role, account common.Address) bool
}

// Require returns nil if account holds any of roles.
func Require(c Checker, account common.Address, roles ...model.Role) error {
	for _, r := range roles {
		if c.HasRole(r, account) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s needs %v", model.ErrUnauthorized, account.Hex(), roles)
}

// Set is an allow-list per role.
type Set map[model.Role]map[common.Address]struct{}

// NewSet returns an empty role set.
func NewSet() Set {
	return make(Set)
}

// HasRole implements Checker.
func (s Set) HasRole(role model.Role, account common.Address) bool {
	_, ok := s[role][account]
	return ok
}

// Apply records a grant or revocation.
func (s Set) Apply(g model.RoleGrant) {
	if !g.Granted {
		delete(s[g.Role], g.Account)
		return
	}
	members, ok := s[g.Role]
	if !ok {
		members = make(map[common.Address]struct{})
		s[g.Role] = members
	}
	members[g.Account] = struct{}{}
}

// Members lists the accounts holding role, sorted by address.
func (s Set) Members(role model.Role) []common.Address {
	out := make([]common.Address, 0, len(s[role]))
	for a := range s[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Grants flattens the set into grant records, e.g. for snapshots.
func (s Set) Grants() []model.RoleGrant {
	roles := make([]model.Role, 0, len(s))
	for r := range s {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	var out []model.RoleGrant
	for _, r := range roles {
		for _, a := range s.Members(r) {
			out = append(out, model.RoleGrant{Role: r, Account: a, Granted: true})
		}
	}
	return out
}
