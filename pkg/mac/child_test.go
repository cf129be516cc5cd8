package mac

import (
	"bytes"
	"testing"

	"github.com/backkem/ember/pkg/buffer"
	"github.com/backkem/ember/pkg/frame"
)

func TestChildEntryLayout(t *testing.T) {
	e := ChildEntry{
		MACIndex: 1,
		ShortID:  0x1234,
		LongID:   0x0102030405060708,
		Info:     ChildPresent | ChildPendingMessage,
	}
	data, err := e.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	want := []byte{
		0x01,
		0x34, 0x12,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x05, 0, 0, 0, 0, 0, 0, 0,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("MarshalBinary() = %x, want %x", data, want)
	}

	var got ChildEntry
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if got != e {
		t.Errorf("UnmarshalBinary() = %+v, want %+v", got, e)
	}
	if err := got.UnmarshalBinary(data[:10]); err != ErrChildEntrySize {
		t.Errorf("short entry error = %v, want %v", err, ErrChildEntrySize)
	}
}

func TestChildTableAddFind(t *testing.T) {
	table := NewChildTable(buffer.NewHeap(1024), 0, 3)

	a, err := table.Add(0x0010, 0xA, 0)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	b, _ := table.Add(0x0020, 0xB, ChildRxOnWhenIdle)
	if a == b {
		t.Fatalf("distinct children share index %d", a)
	}

	if got := table.Find(0x0020); got != b {
		t.Errorf("Find(0x0020) = %d, want %d", got, b)
	}
	if got := table.FindByLong(0xA); got != a {
		t.Errorf("FindByLong(0xA) = %d, want %d", got, a)
	}
	if got := table.FindAddress(frame.ShortAddress(0x0099)); got != -1 {
		t.Errorf("FindAddress(unknown) = %d, want -1", got)
	}

	// Same long ID updates in place.
	again, _ := table.Add(0x0011, 0xA, 0)
	if again != a || table.Len() != 2 {
		t.Errorf("re-add = index %d len %d, want index %d len 2", again, table.Len(), a)
	}
	if e, _ := table.Entry(a); e.ShortID != 0x0011 {
		t.Errorf("ShortID = %#x after update, want 0x0011", e.ShortID)
	}
}

func TestChildTableCapacityAndStableIndexes(t *testing.T) {
	table := NewChildTable(buffer.NewHeap(1024), 0, 2)
	first, _ := table.Add(1, 0x1, 0)
	second, _ := table.Add(2, 0x2, 0)

	if _, err := table.Add(3, 0x3, 0); err != ErrChildTableFull {
		t.Fatalf("Add() to full table error = %v, want %v", err, ErrChildTableFull)
	}
	if err := table.Remove(first); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := table.Remove(first); err != ErrChildNotFound {
		t.Errorf("second Remove() error = %v, want %v", err, ErrChildNotFound)
	}
	if got := table.Find(2); got != second {
		t.Errorf("index of remaining child = %d, want %d", got, second)
	}

	third, err := table.Add(3, 0x3, 0)
	if err != nil {
		t.Fatalf("Add() after removal error = %v", err)
	}
	if third != first {
		t.Errorf("freed slot not reused: got %d, want %d", third, first)
	}
}

func TestChildTableFlags(t *testing.T) {
	table := NewChildTable(buffer.NewHeap(1024), 0, 4)
	i, _ := table.Add(0x0042, 0, 0)

	if !table.HasFlags(i, ChildPresent) {
		t.Fatal("new child should be present")
	}
	table.SetFlags(i, ChildJITExpected|ChildSecureDataRequest)
	if !table.HasFlags(i, ChildJITExpected|ChildSecureDataRequest) {
		t.Error("SetFlags did not set both flags")
	}
	table.ClearFlags(i, ChildJITExpected|ChildPresent)
	if table.HasFlags(i, ChildJITExpected) {
		t.Error("ClearFlags did not clear JIT")
	}
	if !table.HasFlags(i, ChildPresent) {
		t.Error("ClearFlags must not clear ChildPresent")
	}
	if err := table.SetFlags(7, ChildJITExpected); err != ErrChildNotFound {
		t.Errorf("SetFlags(unknown) error = %v, want %v", err, ErrChildNotFound)
	}
}

func TestChildTableMarshal(t *testing.T) {
	src := NewChildTable(buffer.NewHeap(1024), 1, 4)
	src.Add(0x0001, 0x11, 0)
	src.Add(0x0002, 0x22, ChildRxOnWhenIdle)

	data, err := src.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(data) != 2*ChildEntrySize {
		t.Fatalf("len = %d, want %d", len(data), 2*ChildEntrySize)
	}

	dst := NewChildTable(buffer.NewHeap(1024), 1, 4)
	dst.Add(0x0009, 0x99, 0)
	if err := dst.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if dst.Len() != 2 {
		t.Errorf("Len() = %d, want 2", dst.Len())
	}
	if dst.FindByLong(0x99) != -1 {
		t.Error("old entry survived UnmarshalBinary")
	}
	if i := dst.FindByLong(0x22); !dst.HasFlags(i, ChildRxOnWhenIdle) {
		t.Error("flags lost in round trip")
	}
	if err := dst.UnmarshalBinary(data[:5]); err != ErrChildEntrySize {
		t.Errorf("truncated data error = %v, want %v", err, ErrChildEntrySize)
	}
}

func TestChildTableSurvivesReclaim(t *testing.T) {
	h := buffer.NewHeap(1024)
	h.Allocate(40)
	table := NewChildTable(h, 0, 4)
	table.Add(0x0033, 0x33, 0)
	h.Allocate(40)

	h.Reclaim(nil, table.Mark)
	if table.Find(0x0033) < 0 {
		t.Error("child lost across Reclaim")
	}
}
