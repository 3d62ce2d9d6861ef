package textnorm

import (
	"reflect"
	"testing"
)

func TestNormalizeCollapsesWhitespaceAndPunctuation(t *testing.T) {
	t.Parallel()

	raw := "WORLD  TOUR\n\nMarch 15–16, 2025 — “Seoul”"
	got := Normalize(raw)

	want := `WORLD TOUR March 15-16, 2025 - "Seoul"`
	if got.Display != want {
		t.Fatalf("display = %q, want %q", got.Display, want)
	}
	if got.Matching != `world tour march 15-16, 2025 - "seoul"` {
		t.Fatalf("unexpected matching form: %q", got.Matching)
	}
}

func TestNormalizeStripsURLsAndMentions(t *testing.T) {
	t.Parallel()

	raw := "Tickets via https://tickets.example.com/abc now! @BLACKSTAR"
	got := Normalize(raw)

	if got.Display != "Tickets via now!" {
		t.Fatalf("display = %q", got.Display)
	}
	if !reflect.DeepEqual(got.URLs, []string{"https://tickets.example.com/abc"}) {
		t.Fatalf("urls = %v", got.URLs)
	}
	if !reflect.DeepEqual(got.Mentions, []string{"@BLACKSTAR"}) {
		t.Fatalf("mentions = %v", got.Mentions)
	}
}

func TestNormalizeExpandsWeekdayShortForms(t *testing.T) {
	t.Parallel()

	got := Normalize("Fri. March 15, 2025 and Sat March 16")
	if got.Display != "Friday March 15, 2025 and Saturday March 16" {
		t.Fatalf("display = %q", got.Display)
	}

	// The period belongs to the abbreviation and must be consumed with it,
	// and "Thurs" must win over its prefixes "Thur" and "Thu".
	got = Normalize("Thurs. June 5")
	if got.Display != "Thursday June 5" {
		t.Fatalf("display = %q", got.Display)
	}

	// Content abbreviations stay untouched.
	got = Normalize("BLACKSTAR ft SOMEONE")
	if got.Display != "BLACKSTAR ft SOMEONE" {
		t.Fatalf("display = %q", got.Display)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	raw := "  Encore’s   show – Tokyo  https://e.com/x @fan "
	first := Normalize(raw)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(Normalize(raw), first) {
			t.Fatal("Normalize must be deterministic")
		}
	}
}
