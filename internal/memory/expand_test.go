package memory

import (
	"strings"
	"testing"
)

// The original query is always first, so expansion can only widen the
// candidate set.
func TestExpandQueryKeepsOriginalFirst(t *testing.T) {
	inputs := []string{
		"how many hours yesterday",
		"what is my schedule",
		"which project am I assigned to",
		"completely unrelated text",
		"",
	}
	for _, q := range inputs {
		got := ExpandQuery(q)
		if len(got) == 0 || got[0] != q {
			t.Fatalf("ExpandQuery(%q) must start with the original, got %v", q, got)
		}
	}
}

func TestExpandQueryTemporal(t *testing.T) {
	got := ExpandQuery("how many hours did I log last week")
	if len(got) < 2 {
		t.Fatalf("expected a temporal variant, got %v", got)
	}
	if !strings.Contains(got[1], "hours logged") {
		t.Fatalf("unexpected variant %q", got[1])
	}
}

func TestExpandQuerySchedule(t *testing.T) {
	got := ExpandQuery("when is my next shift")
	if len(got) < 2 {
		t.Fatalf("expected a schedule variant, got %v", got)
	}
}

func TestExpandQueryRole(t *testing.T) {
	got := ExpandQuery("what project was I assigned")
	if len(got) < 2 {
		t.Fatalf("expected a role variant, got %v", got)
	}
}

func TestExpandQueryNoCategory(t *testing.T) {
	got := ExpandQuery("thanks a lot")
	if len(got) != 1 {
		t.Fatalf("no category should mean no variants, got %v", got)
	}
}

func TestExpandQueryCapsVariants(t *testing.T) {
	got := ExpandQuery("my schedule for the project shifts yesterday")
	if len(got) > 3 {
		t.Fatalf("at most two variants on top of the original, got %d", len(got))
	}
}

func TestExpandQueryCaseInsensitive(t *testing.T) {
	if len(ExpandQuery("HOURS TODAY")) < 2 {
		t.Fatal("category detection should ignore case")
	}
}
