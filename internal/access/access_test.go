package access

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/liquidity-pool/internal/model"
)

func TestRequire(t *testing.T) {
	broker := common.HexToAddress("0xb0")
	owner := common.HexToAddress("0x0a")
	s := NewSet()
	s.Apply(model.RoleGrant{Role: model.RoleBroker, Account: broker, Granted: true})
	s.Apply(model.RoleGrant{Role: model.RoleOwner, Account: owner, Granted: true})

	if err := Require(s, broker, model.RoleBroker); err != nil {
		t.Errorf("broker should pass: %v", err)
	}
	if err := Require(s, owner, model.RoleBroker); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("owner is not a broker, got %v", err)
	}
	if err := Require(s, owner, model.RoleBroker, model.RoleOwner); err != nil {
		t.Errorf("any-of check should pass: %v", err)
	}

	s.Apply(model.RoleGrant{Role: model.RoleBroker, Account: broker, Granted: false})
	if err := Require(s, broker, model.RoleBroker); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("revoked broker should fail, got %v", err)
	}
}

func TestGrants_Sorted(t *testing.T) {
	s := NewSet()
	s.Apply(model.RoleGrant{Role: model.RoleRebalancer, Account: common.HexToAddress("0x02"), Granted: true})
	s.Apply(model.RoleGrant{Role: model.RoleBroker, Account: common.HexToAddress("0x03"), Granted: true})
	s.Apply(model.RoleGrant{Role: model.RoleBroker, Account: common.HexToAddress("0x01"), Granted: true})

	g := s.Grants()
	if len(g) != 3 {
		t.Fatalf("grants = %d, want 3", len(g))
	}
	if g[0].Role != model.RoleBroker || g[0].Account != common.HexToAddress("0x01") {
		t.Errorf("first grant = %+v", g[0])
	}
	if g[2].Role != model.RoleRebalancer {
		t.Errorf("last grant role = %s", g[2].Role)
	}
}
