// Copyright 2026 The automation-module Authors

package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var (
	addr1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestBalanceRevert(t *testing.T) {
	st := New()
	st.AddBalance(addr1, big.NewInt(100))

	snap := st.Snapshot()
	st.SubBalance(addr1, big.NewInt(40))
	st.AddBalance(addr2, big.NewInt(40))

	if st.GetBalance(addr1).Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance after transfer: %s", st.GetBalance(addr1))
	}

	st.RevertToSnapshot(snap)
	if st.GetBalance(addr1).Cmp(big.NewInt(100)) != 0 {
		t.Errorf("addr1 balance not restored: %s", st.GetBalance(addr1))
	}
	if st.GetBalance(addr2).Sign() != 0 {
		t.Errorf("addr2 balance not restored: %s", st.GetBalance(addr2))
	}
}

func TestNonceRevert(t *testing.T) {
	st := New()
	st.SetNonce(addr1, 5)

	snap := st.Snapshot()
	st.SetNonce(addr1, 6)
	st.RevertToSnapshot(snap)

	if st.GetNonce(addr1) != 5 {
		t.Errorf("nonce not restored: %d", st.GetNonce(addr1))
	}
}

func TestCreateAccountRevert(t *testing.T) {
	st := New()

	snap := st.Snapshot()
	st.CreateAccount(addr1)
	if !st.Exist(addr1) {
		t.Fatal("account not created")
	}
	st.RevertToSnapshot(snap)
	if st.Exist(addr1) {
		t.Error("account creation not reverted")
	}
}

func TestLogsRevert(t *testing.T) {
	st := New()
	st.AddLog(&gethtypes.Log{Address: addr1})

	snap := st.Snapshot()
	st.AddLog(&gethtypes.Log{Address: addr2})
	if len(st.Logs()) != 2 {
		t.Fatalf("got %d logs, want 2", len(st.Logs()))
	}

	st.RevertToSnapshot(snap)
	if len(st.Logs()) != 1 {
		t.Errorf("got %d logs after revert, want 1", len(st.Logs()))
	}
	if st.Logs()[0].Address != addr1 {
		t.Errorf("wrong surviving log")
	}
}

func TestRecordUndo(t *testing.T) {
	st := New()
	grants := map[common.Address]bool{}

	snap := st.Snapshot()
	grants[addr1] = true
	st.RecordUndo(func() { delete(grants, addr1) })

	st.RevertToSnapshot(snap)
	if grants[addr1] {
		t.Error("component map not restored with the journal")
	}
}

func TestNestedSnapshots(t *testing.T) {
	st := New()
	st.AddBalance(addr1, big.NewInt(10))

	outer := st.Snapshot()
	st.AddBalance(addr1, big.NewInt(1))

	inner := st.Snapshot()
	st.AddBalance(addr1, big.NewInt(1))
	st.RevertToSnapshot(inner)

	if st.GetBalance(addr1).Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("inner revert wrong: %s", st.GetBalance(addr1))
	}

	st.RevertToSnapshot(outer)
	if st.GetBalance(addr1).Cmp(big.NewInt(10)) != 0 {
		t.Errorf("outer revert wrong: %s", st.GetBalance(addr1))
	}
}

func TestGetBalanceIsACopy(t *testing.T) {
	st := New()
	st.AddBalance(addr1, big.NewInt(100))

	st.GetBalance(addr1).SetInt64(0)
	if st.GetBalance(addr1).Cmp(big.NewInt(100)) != 0 {
		t.Error("GetBalance leaked internal state")
	}
}
