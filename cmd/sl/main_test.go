package main

import "testing"

func TestDashHelpers(t *testing.T) {
	if got := orDash(""); got != "-" {
		t.Fatalf("orDash empty: %q", got)
	}
	if got := orDash("SCN-001"); got != "SCN-001" {
		t.Fatalf("orDash: %q", got)
	}
	if got := ptrOrDash(nil); got != "-" {
		t.Fatalf("ptrOrDash nil: %q", got)
	}
	empty := ""
	if got := ptrOrDash(&empty); got != "-" {
		t.Fatalf("ptrOrDash empty: %q", got)
	}
	v := "2024-02-01"
	if got := ptrOrDash(&v); got != "2024-02-01" {
		t.Fatalf("ptrOrDash: %q", got)
	}
}
