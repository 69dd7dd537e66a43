package cap

import "testing"

type fakeKobject struct {
	typ Type
	id  int
}

func (f *fakeKobject) Type() Type { return f.typ }

func TestAllocReturnsDistinctHandles(t *testing.T) {
	tbl := NewTable()
	h1 := tbl.Alloc()
	h2 := tbl.Alloc()
	if h1 == h2 {
		t.Fatal("expected distinct handles")
	}
}

func TestPublishAndGetRoundTrip(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	obj := &fakeKobject{typ: "waitq", id: 1}

	if err := tbl.Publish(h, obj); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got, err := tbl.Get(h, "waitq")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != obj {
		t.Fatal("expected Get to return the published kobject")
	}
}

func TestGetTypeMismatchIsProtocolError(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	tbl.Publish(h, &fakeKobject{typ: "waitq"})

	if _, err := tbl.Get(h, "phone"); err == nil {
		t.Fatal("expected a type mismatch to be reported as an error")
	}
}

func TestGetMissingHandleIsNoEnt(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get(99, "waitq"); err == nil {
		t.Fatal("expected a missing handle to fail")
	}
}

func TestPublishUnpublishRoundTripPreservesKobject(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	obj := &fakeKobject{typ: "phone"}
	tbl.Publish(h, obj)

	got, err := tbl.Unpublish(h)
	if err != nil {
		t.Fatalf("Unpublish failed: %v", err)
	}
	if got != obj {
		t.Fatal("expected Unpublish to return the original kobject")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected the table to be empty after Unpublish, got %d entries", tbl.Len())
	}
}

func TestPublishIntoOccupiedHandleFails(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	tbl.Publish(h, &fakeKobject{typ: "waitq"})
	if err := tbl.Publish(h, &fakeKobject{typ: "waitq"}); err == nil {
		t.Fatal("expected publishing into an occupied handle to fail")
	}
}

func TestCloseRunsCleanupForEveryLiveCapability(t *testing.T) {
	tbl := NewTable()
	var cleaned []int

	tbl.RegisterCleanup("waitq", func(obj Kobject) {
		cleaned = append(cleaned, obj.(*fakeKobject).id)
	})

	for i := 0; i < 3; i++ {
		h := tbl.Alloc()
		tbl.Publish(h, &fakeKobject{typ: "waitq", id: i})
	}

	tbl.Close()

	if len(cleaned) != 3 {
		t.Fatalf("expected cleanup to run for all 3 capabilities, ran for %d", len(cleaned))
	}
	if tbl.Len() != 0 {
		t.Fatal("expected Close to empty the table")
	}
}

func TestCloseSkipsTypesWithNoRegisteredCleanup(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	tbl.Publish(h, &fakeKobject{typ: "phone"})

	tbl.Close()
	if tbl.Len() != 0 {
		t.Fatal("expected Close to still clear the table even without a cleanup callback")
	}
}

func TestRefIncrementsWithoutError(t *testing.T) {
	tbl := NewTable()
	h := tbl.Alloc()
	tbl.Publish(h, &fakeKobject{typ: "waitq"})
	if err := tbl.Ref(h); err != nil {
		t.Fatalf("Ref failed: %v", err)
	}
}
