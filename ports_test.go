package hive

import "testing"

func TestPortWriteRead_FIFO(t *testing.T) {
	p := newPort(4)
	p.Write("a")
	p.Write("b")
	p.Write("c")

	for _, want := range []string{"a", "b", "c"} {
		v, ok := p.Read()
		if !ok || v != want {
			t.Fatalf("Read() = %v, %v, want %q", v, ok, want)
		}
	}
	if _, ok := p.Read(); ok {
		t.Error("Read() on empty port reported ok")
	}
}

func TestPortWrite_EvictsOldest(t *testing.T) {
	p := newPort(2)
	if evicted := p.Write(1); evicted != nil {
		t.Errorf("Write(1) evicted %v, want nil", evicted)
	}
	if evicted := p.Write(2); evicted != nil {
		t.Errorf("Write(2) evicted %v, want nil", evicted)
	}
	if evicted := p.Write(3); evicted != 1 {
		t.Errorf("Write(3) evicted %v, want 1", evicted)
	}
	v, _ := p.Read()
	if v != 2 {
		t.Errorf("Read() = %v, want 2", v)
	}
}

func TestPortTryWrite(t *testing.T) {
	p := newPort(1)
	if !p.TryWrite("x") {
		t.Fatal("TryWrite on empty port failed")
	}
	if p.TryWrite("y") {
		t.Error("TryWrite on full port succeeded")
	}
	if !p.Full() {
		t.Error("Full() = false on full port")
	}
}

func TestPortPeekClear(t *testing.T) {
	p := newPort(4)
	p.Write("a")
	p.Write("b")

	v, ok := p.Peek()
	if !ok || v != "a" {
		t.Errorf("Peek() = %v, %v, want a", v, ok)
	}
	if p.Len() != 2 {
		t.Errorf("Peek must not consume: Len() = %d, want 2", p.Len())
	}

	p.Clear()
	if p.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", p.Len())
	}
}

func TestPortTable(t *testing.T) {
	tbl := newPortTable(4)
	p1 := tbl.get(1)
	if p1 == nil {
		t.Fatal("get(1) = nil")
	}
	if tbl.get(1) != p1 {
		t.Error("get(1) must return the same port")
	}
	p1.Write("x")

	tbl.reset()
	if tbl.get(1) == p1 {
		t.Error("reset must discard existing ports")
	}
	if tbl.get(1).Len() != 0 {
		t.Error("port after reset is not empty")
	}
}
