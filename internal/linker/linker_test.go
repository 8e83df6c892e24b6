package linker

import (
	"reflect"
	"sort"
	"testing"
)

func TestLinkLastWriteWins(t *testing.T) {
	l := New()
	addr := Address{Host: "10.0.0.5", Port: 9000}

	l.Link(addr, "channel7group0")
	l.Link(addr, "channel7group1")

	got := l.ValuesFor([]string{"channel7group0", "channel7group1"})
	if len(got["channel7group0"]) != 0 {
		t.Fatalf("stale tag still present: %+v", got)
	}
	if len(got["channel7group1"]) != 1 || got["channel7group1"][0] != addr {
		t.Fatalf("final tag missing: %+v", got)
	}
}

func TestUnlinkMissingIsSilent(t *testing.T) {
	l := New()
	l.Unlink(Address{Host: "1.2.3.4", Port: 1}) // must not panic
}

func TestMergePointwiseOverwrite(t *testing.T) {
	a := New()
	b := New()

	addrA := Address{Host: "10.0.0.1", Port: 1}
	addrB := Address{Host: "10.0.0.2", Port: 2}

	a.Link(addrA, "t1")
	b.Link(addrB, "t1")

	a.Merge(b)

	got := a.ValuesFor([]string{"t1"})["t1"]
	sort.Slice(got, func(i, j int) bool { return got[i].Port < got[j].Port })
	want := []Address{addrA, addrB}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMergeEventualConsistency(t *testing.T) {
	a := New()
	b := New()

	a.Link(Address{Host: "h1", Port: 1}, "t1")
	b.Link(Address{Host: "h2", Port: 2}, "t1")

	// Both sides merge each other's last snapshot.
	aSnapshot, _ := a.ToJSON()
	bSnapshot, _ := b.ToJSON()

	bFromA, err := FromJSON(aSnapshot)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	b.Merge(bFromA)

	aFromB, err := FromJSON(bSnapshot)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	a.Merge(aFromB)

	wantA := a.ValuesFor([]string{"t1"})["t1"]
	wantB := b.ValuesFor([]string{"t1"})["t1"]
	sort.Slice(wantA, func(i, j int) bool { return wantA[i].Port < wantA[j].Port })
	sort.Slice(wantB, func(i, j int) bool { return wantB[i].Port < wantB[j].Port })

	if !reflect.DeepEqual(wantA, wantB) {
		t.Fatalf("linkers not converged: a=%+v b=%+v", wantA, wantB)
	}
}

func TestTagCounts(t *testing.T) {
	l := New()
	l.Link(Address{Host: "h1", Port: 1}, "t1")
	l.Link(Address{Host: "h2", Port: 2}, "t1")
	l.Link(Address{Host: "h3", Port: 3}, "t2")

	got := l.TagCounts()
	want := map[string]int{"t1": 2, "t2": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TagCounts = %v, want %v", got, want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	l := New()
	l.Link(Address{Host: "192.168.1.7", Port: 51234}, "channel7group0")

	encoded, err := l.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := FromJSON(encoded)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	got := decoded.ValuesFor([]string{"channel7group0"})["channel7group0"]
	if len(got) != 1 || got[0].Host != "192.168.1.7" || got[0].Port != 51234 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
