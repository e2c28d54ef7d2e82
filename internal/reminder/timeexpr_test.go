package reminder

import (
	"errors"
	"testing"
)

func TestNormalizeTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"9 PM", "21:00"},
		{"9pm", "21:00"},
		{"9 pm", "21:00"},
		{"21:00", "21:00"},
		{"21", "21:00"},
		{"9:30 PM", "21:30"},
		{"9:30pm", "21:30"},
		{"8 AM", "08:00"},
		{"8:05 am", "08:05"},
		{"12 AM", "00:00"},
		{"12 PM", "12:00"},
		{"12:30 AM", "00:30"},
		{"0", "00:00"},
		{"7:45", "07:45"},
		{"  10 P.M. ", "22:00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTime(tt.in)
			if err != nil {
				t.Fatalf("NormalizeTime(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeTime(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTimeRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "tomorrow", "25:00", "13 PM", "0 AM", "9:60", "9:5 pm", "noon", "21:00:00"} {
		if got, err := NormalizeTime(in); !errors.Is(err, ErrUnparsableTime) {
			t.Fatalf("NormalizeTime(%q) = %q, %v; want ErrUnparsableTime", in, got, err)
		}
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()
	if got := SubjectID("  Jane.Doe@Example.COM "); got != "jane_doe_at_example_com" {
		t.Fatalf("SubjectID = %q", got)
	}
	id := JobID("jane_doe_at_example_com", "Metformin 500mg")
	if id != "jane_doe_at_example_com:metformin 500mg" {
		t.Fatalf("JobID = %q", id)
	}
	sub, med, ok := ParseJobID(id)
	if !ok || sub != "jane_doe_at_example_com" || med != "metformin 500mg" {
		t.Fatalf("ParseJobID = %q %q %v", sub, med, ok)
	}
	if _, _, ok := ParseJobID("housekeeping.store_ping"); ok {
		t.Fatalf("non-reminder names must not parse")
	}
	// A colon in the label stays in the medication part.
	if _, med, _ := ParseJobID("a:vit b:12"); med != "vit b:12" {
		t.Fatalf("split must happen on the first colon, got %q", med)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	if KindOf(nil) != KindNone {
		t.Fatalf("nil should map to KindNone")
	}
	if k := KindOf(unparsable("x")); k != KindUnparsableTime {
		t.Fatalf("kind = %v", k)
	}
	if k := KindOf(errors.New("boom")); k != KindInternal {
		t.Fatalf("kind = %v", k)
	}
	if KindStoreUnavailable.String() != "store_unavailable" {
		t.Fatalf("String = %q", KindStoreUnavailable.String())
	}
}
