package attrs

import "testing"

func TestSet_SetReplacesByName(t *testing.T) {
	s := New()
	s.Set(TagJob, "job-name", "first")
	s.Set(TagJob, "job-name", "second")

	if s.Len() != 1 {
		t.Fatalf("expected 1 attribute, got %d", s.Len())
	}
	if got := s.GetString("job-name"); got != "second" {
		t.Errorf("expected second, got %s", got)
	}
}

func TestSet_GetReturnsCopy(t *testing.T) {
	s := New()
	s.Set(TagJob, "copies", 2)

	a := s.Get("copies")
	a.Values[0] = 99

	if got := s.Get("copies").Int(0); got != 2 {
		t.Errorf("expected stored value 2, got %d", got)
	}
}

func TestSet_CopyFromGroupAndFilter(t *testing.T) {
	src := New()
	src.Set(TagOperation, "requesting-user-name", "alice")
	src.Set(TagJob, "job-name", "report")
	src.Set(TagJob, "copies", 3)
	src.Set(TagJob, "media", "iso_a4_210x297mm")

	dst := New()
	dst.CopyFrom(src, TagJob, nil)
	if dst.Len() != 3 {
		t.Fatalf("expected 3 job attributes, got %d", dst.Len())
	}
	if dst.Get("requesting-user-name") != nil {
		t.Error("operation attribute should not be copied")
	}

	filtered := New()
	filtered.CopyFrom(src, TagJob, []string{"copies"})
	if filtered.Len() != 1 || filtered.Get("copies").Int(0) != 3 {
		t.Errorf("expected only copies=3, got %v", filtered.Map())
	}
}

func TestAttribute_IntParsesStrings(t *testing.T) {
	a := &Attribute{Name: "job-impressions", Values: []any{"12"}}
	if got := a.Int(0); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}

	var missing *Attribute
	if missing.Int(0) != 0 || missing.String(0) != "" {
		t.Error("nil attribute should return zero values")
	}
}

func TestSet_NilSafe(t *testing.T) {
	var s *Set
	if s.Len() != 0 || s.Get("x") != nil || s.Clone().Len() != 0 {
		t.Error("nil set should behave as empty")
	}
}
