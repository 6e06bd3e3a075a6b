package vector

import (
	"testing"
)

func TestNewPanicsOnNonPositiveArity(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1, -100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d) did not panic", n)
				}
			}()
			New(n)
		}()
	}
}

func TestInsertCompletes(t *testing.T) {
	t.Parallel()

	orders := [][]int{
		{1, 2, 3},
		{3, 2, 1},
		{2, 3, 1},
	}

	for _, order := range orders {
		p := New(3)
		if p.Complete() {
			t.Fatal("empty vector reported complete")
		}

		for i, pos := range order {
			p.Insert(pos, pos*10)
			wantMissing := len(order) - i - 1
			if got := p.Missing(); got != wantMissing {
				t.Fatalf("after %d inserts: Missing() = %d, want %d", i+1, got, wantMissing)
			}
		}

		if !p.Complete() {
			t.Fatal("full vector not complete")
		}

		values := p.Values()
		for i, v := range values {
			if v != (i+1)*10 {
				t.Fatalf("Values()[%d] = %v, want %d", i, v, (i+1)*10)
			}
		}
	}
}

func TestInsertOverwrites(t *testing.T) {
	t.Parallel()

	p := New(2)
	p.Insert(1, "a")
	p.Insert(1, "b")
	if p.Missing() != 1 {
		t.Fatalf("Missing() = %d, want 1", p.Missing())
	}
	p.Insert(2, "c")

	values := p.Values()
	if values[0] != "b" || values[1] != "c" {
		t.Fatalf("Values() = %v, want [b c]", values)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	p := New(3)
	for pos := 1; pos <= 3; pos++ {
		p.Insert(pos, pos)
	}

	p.Remove(2)
	if p.Complete() {
		t.Fatal("vector complete after Remove")
	}
	if p.Missing() != 1 {
		t.Fatalf("Missing() = %d, want 1", p.Missing())
	}

	// Removing an already empty slot changes nothing.
	p.Remove(2)
	if p.Missing() != 1 {
		t.Fatalf("Missing() after double remove = %d, want 1", p.Missing())
	}

	p.Insert(2, 2)
	if !p.Complete() {
		t.Fatal("vector not complete after refill")
	}
}

func TestOutOfRangePositionsPanic(t *testing.T) {
	t.Parallel()

	p := New(3)
	for _, pos := range []int{0, -1, 4, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Insert(%d) did not panic", pos)
				}
			}()
			p.Insert(pos, nil)
		}()

		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Remove(%d) did not panic", pos)
				}
			}()
			p.Remove(pos)
		}()
	}

	if p.Missing() != 3 {
		t.Fatalf("failed operations changed state: Missing() = %d, want 3", p.Missing())
	}
}

func TestValuesPanicsWhenIncomplete(t *testing.T) {
	t.Parallel()

	p := New(2)
	p.Insert(1, "x")

	defer func() {
		if recover() == nil {
			t.Error("Values() on incomplete vector did not panic")
		}
	}()
	p.Values()
}

func TestValuesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New(1)
	p.Insert(1, "x")

	values := p.Values()
	values[0] = "changed"

	if got := p.Values()[0]; got != "x" {
		t.Fatalf("internal slot mutated through Values(): got %v", got)
	}
}
