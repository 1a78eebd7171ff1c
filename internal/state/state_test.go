package state

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/types"
)

func word(b byte) Word {
	var w Word
	w[31] = b
	return w
}

func TestSlotOf_Deterministic(t *testing.T) {
	a := SlotOf("ns", []byte{1, 2})
	b := SlotOf("ns", []byte{1, 2})
	c := SlotOf("other", []byte{1, 2})
	if a != b {
		t.Error("same inputs must give the same slot")
	}
	if a == c {
		t.Error("namespaces must separate slots")
	}
}

func TestWordAddressRoundTrip(t *testing.T) {
	addr := types.MustParseAddress("0x1234567890abcdef1234567890abcdef12345678")
	w := WordFromAddress(addr)
	for i := 0; i < 12; i++ {
		if w[i] != 0 {
			t.Fatalf("address must be right-aligned, byte %d = %x", i, w[i])
		}
	}
	if w.Address() != addr {
		t.Errorf("Address() = %s", types.HexAddress(w.Address()))
	}
}

func TestAtomic_CommitAndRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	k1, k2 := SlotOf("k1"), SlotOf("k2")

	err := s.Atomic(ctx, func(ctx context.Context) error {
		return s.Set(ctx, k1, word(1))
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context) error {
		if err := s.Set(ctx, k1, word(9)); err != nil {
			return err
		}
		if err := s.Set(ctx, k2, word(2)); err != nil {
			return err
		}
		if got := s.Get(ctx, k1); got != word(9) {
			t.Errorf("uncommitted read = %v, want 9", got[31])
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	if got := s.Get(ctx, k1); got != word(1) {
		t.Errorf("k1 after rollback = %v, want 1", got[31])
	}
	if got := s.Get(ctx, k2); !got.IsZero() {
		t.Error("k2 must be rolled back")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestAtomic_NestedFailureRevertsOnlyInner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	outer, inner := SlotOf("outer"), SlotOf("inner")

	err := s.Atomic(ctx, func(ctx context.Context) error {
		if err := s.Set(ctx, outer, word(1)); err != nil {
			return err
		}
		innerErr := s.Atomic(ctx, func(ctx context.Context) error {
			if err := s.Set(ctx, inner, word(2)); err != nil {
				return err
			}
			return errors.New("inner failed")
		})
		if innerErr == nil {
			t.Error("inner unit should fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	if got := s.Get(ctx, outer); got != word(1) {
		t.Error("outer write must survive")
	}
	if got := s.Get(ctx, inner); !got.IsZero() {
		t.Error("inner write must be reverted")
	}
}

func TestAtomic_PanicRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	k := SlotOf("k")

	func() {
		defer func() { _ = recover() }()
		_ = s.Atomic(ctx, func(ctx context.Context) error {
			_ = s.Set(ctx, k, word(5))
			panic("module crashed")
		})
	}()

	if !s.Get(ctx, k).IsZero() {
		t.Error("panic must roll back")
	}
	// The lock must have been released.
	if err := s.Set(ctx, k, word(6)); err != nil {
		t.Fatalf("set after panic: %v", err)
	}
}

func TestReadOnlyContext(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context) error {
		return s.Set(WithReadOnly(ctx), SlotOf("k"), word(1))
	})
	if !errors.Is(err, apperrors.ErrWriteProtection) {
		t.Fatalf("err = %v, want write protection", err)
	}
	if s.Len() != 0 {
		t.Error("nothing should be written")
	}
}

func TestView_ForbidsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_ = s.Set(ctx, SlotOf("k"), word(3))

	err := s.View(ctx, func(ctx context.Context) error {
		if got := s.Get(ctx, SlotOf("k")); got != word(3) {
			t.Errorf("view read = %v", got[31])
		}
		return s.Set(ctx, SlotOf("k"), word(4))
	})
	if !errors.Is(err, apperrors.ErrWriteProtection) {
		t.Fatalf("err = %v, want write protection", err)
	}
}

type recordingPersister struct {
	changes []Change
	err     error
}

func (p *recordingPersister) Persist(_ context.Context, changes []Change) error {
	p.changes = append(p.changes, changes...)
	return p.err
}

func TestPersister(t *testing.T) {
	p := &recordingPersister{}
	s := NewStore(WithPersister(p))
	ctx := context.Background()
	k := SlotOf("k")

	err := s.Atomic(ctx, func(ctx context.Context) error {
		_ = s.Set(ctx, k, word(1))
		_ = s.Set(ctx, k, word(2))
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if len(p.changes) != 1 || p.changes[0].Value != word(2) {
		t.Fatalf("changes = %+v, want one final write", p.changes)
	}

	p.err = errors.New("db down")
	err = s.Atomic(ctx, func(ctx context.Context) error {
		return s.Set(ctx, k, word(3))
	})
	if !errors.Is(err, apperrors.ErrValidatorStorageHelper) {
		t.Fatalf("err = %v, want storage helper error", err)
	}
	if got := s.Get(ctx, k); got != word(2) {
		t.Errorf("failed persist must roll back, got %v", got[31])
	}
}

func TestExportImport(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_ = s.Set(ctx, SlotOf("a"), word(1))
	_ = s.Set(ctx, SlotOf("b"), word(2))

	dump := s.Export()
	other := NewStore()
	if err := other.Import(ctx, dump); err != nil {
		t.Fatalf("import: %v", err)
	}
	if other.Len() != 2 || other.Get(ctx, SlotOf("b")) != word(2) {
		t.Error("import should restore every slot")
	}

	err := other.Atomic(ctx, func(ctx context.Context) error {
		return other.Import(ctx, nil)
	})
	if err == nil {
		t.Error("import inside a unit must fail")
	}
}
