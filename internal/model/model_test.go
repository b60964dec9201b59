package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var traderAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestSubAccountID_PackLayout(t *testing.T) {
	id := SubAccountID{Account: traderAddr, CollateralID: 3, AssetID: 7, IsLong: true}
	b := id.Pack()

	if got := common.BytesToAddress(b[0:20]); got != traderAddr {
		t.Errorf("address bytes = %s, want %s", got.Hex(), traderAddr.Hex())
	}
	if b[20] != 3 || b[21] != 7 || b[22] != 1 {
		t.Errorf("id bytes = %d %d %d, want 3 7 1", b[20], b[21], b[22])
	}
	for i := 23; i < 32; i++ {
		if b[i] != 0 {
			t.Errorf("padding byte %d = %d, want 0", i, b[i])
		}
	}

	short := SubAccountID{Account: traderAddr, CollateralID: 3, AssetID: 7}
	if short.Pack()[22] != 0 {
		t.Error("short direction byte should be 0")
	}
}

func TestSubAccountID_Unpack(t *testing.T) {
	id := SubAccountID{Account: traderAddr, CollateralID: 0, AssetID: 255, IsLong: false}
	got, err := UnpackSubAccountID(id.Pack())
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got != id {
		t.Errorf("unpack = %+v, want %+v", got, id)
	}

	bad := id.Pack()
	bad[22] = 2
	if _, err := UnpackSubAccountID(bad); !errors.Is(err, ErrInvalidSubAccountID) {
		t.Errorf("direction byte 2: expected ErrInvalidSubAccountID, got %v", err)
	}

	bad = id.Pack()
	bad[31] = 1
	if _, err := UnpackSubAccountID(bad); !errors.Is(err, ErrInvalidSubAccountID) {
		t.Errorf("dirty padding: expected ErrInvalidSubAccountID, got %v", err)
	}
}

func TestParseSubAccountID(t *testing.T) {
	id := SubAccountID{Account: traderAddr, CollateralID: 1, AssetID: 2, IsLong: true}

	tests := []struct {
		name  string
		input string
		want  SubAccountID
		err   bool
	}{
		{"packed hex", id.Hex(), id, false},
		{"human long", id.String(), id, false},
		{"human short", traderAddr.Hex() + "-1-2-short", SubAccountID{Account: traderAddr, CollateralID: 1, AssetID: 2}, false},
		{"id out of range", traderAddr.Hex() + "-300-2-long", SubAccountID{}, true},
		{"bad direction", traderAddr.Hex() + "-1-2-up", SubAccountID{}, true},
		{"short hex", "0x1234", SubAccountID{}, true},
		{"empty", "", SubAccountID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubAccountID(tt.input)
			if tt.err {
				if !errors.Is(err, ErrInvalidSubAccountID) {
					t.Fatalf("expected ErrInvalidSubAccountID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSubAccountID_JSONMapKey(t *testing.T) {
	id := SubAccountID{Account: traderAddr, CollateralID: 1, AssetID: 2, IsLong: true}
	data, err := json.Marshal(map[SubAccountID]int{id: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[SubAccountID]int
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[id] != 5 {
		t.Errorf("map value = %d, want 5", back[id])
	}
}

func TestPositionOrderFlags(t *testing.T) {
	f := FlagOpen | FlagMarket | FlagTpslStrategy
	if !f.IsOpen() || !f.IsMarket() || !f.IsTpslStrategy() {
		t.Error("expected open, market and tpsl bits set")
	}
	if f.IsTrigger() || f.WithdrawAllIfEmpty() || f.ShouldReachMinProfit() {
		t.Error("unexpected bits set")
	}
	if byte(FlagShouldReachMinProfit) != 0x04 {
		t.Errorf("min profit flag = %#x", byte(FlagShouldReachMinProfit))
	}
}

func TestOrder_CloneDoesNotAlias(t *testing.T) {
	o := Order{ID: 1, Type: OrderTypeLiquidity, Liquidity: &LiquidityOrder{AssetID: 1, IsAdding: true}}
	c := o.Clone()
	c.Liquidity.IsAdding = false
	if !o.Liquidity.IsAdding {
		t.Error("clone aliased the liquidity payload")
	}
}

func TestOrder_IsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := Order{Deadline: now}
	if o.IsExpired(now) {
		t.Error("order should not be expired at its deadline")
	}
	if !o.IsExpired(now.Add(time.Second)) {
		t.Error("order should be expired after its deadline")
	}
}

func TestEventFilter(t *testing.T) {
	e := Event{Type: EventFillOrder, OrderID: 4, Account: traderAddr}
	other := common.HexToAddress("0x02")

	if !(EventFilter{}).Matches(e) {
		t.Error("empty filter should match")
	}
	if !(EventFilter{OrderID: 4, Account: &traderAddr}).Matches(e) {
		t.Error("order+account filter should match")
	}
	if (EventFilter{Account: &other}).Matches(e) {
		t.Error("other account should not match")
	}
	if (EventFilter{Type: EventCancelOrder}).Matches(e) {
		t.Error("other type should not match")
	}
}
