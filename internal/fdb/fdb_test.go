package fdb

import (
	"testing"
	"time"
)

type fakePeer string

func (p fakePeer) String() string { return string(p) }

func TestAddIsIdempotent(t *testing.T) {
	f := New(nil)
	mac := MAC{0, 1, 2, 3, 4, 5}

	first := f.Add(mac, fakePeer("10.0.0.1:58023"))
	second := f.Add(mac, fakePeer("10.0.0.2:58023"))

	if first != second {
		t.Fatalf("Add() on an existing MAC should return the original entry")
	}
	if second.Destination().String() != "10.0.0.1:58023" {
		t.Fatalf("Add() overwrote an existing entry's destination: got %s", second.Destination())
	}
}

func TestTouchUpdatesDestination(t *testing.T) {
	f := New(nil)
	mac := MAC{0, 1, 2, 3, 4, 5}

	f.Touch(mac, fakePeer("10.0.0.1:58023"))
	f.Touch(mac, fakePeer("10.0.0.2:58023"))

	e := f.Get(mac)
	if e == nil {
		t.Fatal("Get() returned nil after Touch()")
	}
	if e.Destination().String() != "10.0.0.2:58023" {
		t.Fatalf("Destination() = %s, want 10.0.0.2:58023", e.Destination())
	}
}

func TestTouchLocal(t *testing.T) {
	f := New(nil)
	mac := MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	f.Touch(mac, nil)

	e := f.Get(mac)
	if e == nil || !e.IsLocal() {
		t.Fatalf("entry should be local after Touch(mac, nil)")
	}
}

func TestGetMissing(t *testing.T) {
	f := New(nil)
	if e := f.Get(MAC{1, 2, 3, 4, 5, 6}); e != nil {
		t.Fatalf("Get() on an empty table returned %v, want nil", e)
	}
}

func TestExpire(t *testing.T) {
	f := New(nil)
	mac := MAC{0, 1, 2, 3, 4, 5}
	f.Touch(mac, nil)

	f.Expire(time.Hour)
	if f.Get(mac) == nil {
		t.Fatal("Expire() with a long maxAge should not remove a fresh entry")
	}

	f.Expire(0)
	if f.Get(mac) != nil {
		t.Fatal("Expire(0) should remove every entry")
	}
}

func TestCount(t *testing.T) {
	f := New(nil)
	if f.Count() != 0 {
		t.Fatalf("Count() = %d on an empty table, want 0", f.Count())
	}
	f.Touch(MAC{1}, nil)
	f.Touch(MAC{2}, nil)
	if f.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", f.Count())
	}
}

func TestMACString(t *testing.T) {
	mac := MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	if got, want := mac.String(), "00:11:22:33:44:55"; got != want {
		t.Fatalf("MAC.String() = %q, want %q", got, want)
	}
}
