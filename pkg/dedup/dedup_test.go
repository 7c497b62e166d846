package dedup

import (
	"testing"
	"time"
)

func TestShouldProcess(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10)
	d.now = func() time.Time { return clock }

	if !d.ShouldProcess("a") {
		t.Fatalf("first delivery must be processed")
	}
	if d.ShouldProcess("a") {
		t.Fatalf("redelivery within ttl must be dropped")
	}
	if !d.ShouldProcess("") {
		t.Fatalf("empty id is always processed")
	}

	clock = clock.Add(2 * time.Minute)
	if !d.ShouldProcess("a") {
		t.Fatalf("delivery after ttl must be processed again")
	}
}

func TestShouldProcessCapsEntries(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Hour, 3)
	d.now = func() time.Time { return clock }

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		clock = clock.Add(time.Second)
		d.ShouldProcess(id)
	}
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if d.ShouldProcess("e") {
		t.Fatalf("most recent id must still be remembered")
	}
}

func TestPayloadKeyDependsOnTopic(t *testing.T) {
	p := []byte(`{"value":1}`)
	if PayloadKey("a", p) == PayloadKey("b", p) {
		t.Fatalf("same payload on different topics must not collide")
	}
	if PayloadKey("a", p) != PayloadKey("a", p) {
		t.Fatalf("PayloadKey must be deterministic")
	}
}

func TestNilDeduper(t *testing.T) {
	var d *Deduper
	if !d.ShouldProcess("x") || d.Len() != 0 {
		t.Fatalf("nil deduper processes everything")
	}
}
