package temporal

import "testing"

func TestValueStatuses(t *testing.T) {
	if v := From("bed 12"); !v.IsSave() || v.Get() != "bed 12" {
		t.Errorf("From: save with value, got status save=%v value=%q", v.IsSave(), v.Get())
	}
	if v := Unknown[string](); !v.IsUnknown() {
		t.Error("Unknown: expected unknown status")
	}
	if v := Deleted[string](); !v.IsDelete() {
		t.Error("Deleted: expected delete status")
	}
}

func TestFromPtr(t *testing.T) {
	if v := FromPtr[int](nil); !v.IsUnknown() {
		t.Error("nil pointer should map to unknown")
	}
	n := 42
	if v := FromPtr(&n); !v.IsSave() || v.Get() != 42 {
		t.Error("non-nil pointer should map to save")
	}
}

func TestValueFromHL7(t *testing.T) {
	if v := ValueFromHL7(""); !v.IsUnknown() {
		t.Error("empty field should be unknown")
	}
	if v := ValueFromHL7(`""`); !v.IsDelete() {
		t.Error(`literal "" should be an explicit delete`)
	}
	if v := ValueFromHL7("M"); !v.IsSave() || v.Get() != "M" {
		t.Error("populated field should be a save")
	}
}

func TestGetOr(t *testing.T) {
	if got := Unknown[int]().GetOr(7); got != 7 {
		t.Errorf("unknown GetOr = %d, want fallback 7", got)
	}
	if got := Deleted[int]().GetOr(7); got != 7 {
		t.Errorf("deleted GetOr = %d, want fallback 7", got)
	}
	if got := From(3).GetOr(7); got != 3 {
		t.Errorf("save GetOr = %d, want 3", got)
	}
}
