package grading

import (
	"testing"
)

func TestDefaultScaleBoundaries(t *testing.T) {
	s := DefaultScale()
	// Every threshold at -1, exact and +1.
	tests := []struct {
		pct  int
		want int
	}{
		{100, 10},
		{91, 10},
		{90, 10},
		{89, 9},
		{81, 9},
		{80, 9},
		{79, 8},
		{71, 8},
		{70, 8},
		{69, 7},
		{61, 7},
		{60, 7},
		{59, 6},
		{51, 6},
		{50, 6},
		{49, 5},
		{41, 5},
		{40, 5},
		{39, 4},
		{1, 4},
		{0, 4},
	}
	for _, tt := range tests {
		if got := s.Grade(tt.pct); got != tt.want {
			t.Errorf("Grade(%d) = %d, want %d", tt.pct, got, tt.want)
		}
	}
}

func TestParseScale(t *testing.T) {
	s, err := ParseScale("0:1, 50:3,75:5")
	if err != nil {
		t.Fatalf("ParseScale: %v", err)
	}
	if got := s.String(); got != "75:5,50:3,0:1" {
		t.Errorf("String() = %q", got)
	}
	if got := s.Grade(74); got != 3 {
		t.Errorf("Grade(74) = %d, want 3", got)
	}
	if got := s.Grade(75); got != 5 {
		t.Errorf("Grade(75) = %d, want 5", got)
	}
}

func TestParseScaleRoundTrip(t *testing.T) {
	def := DefaultScale()
	s, err := ParseScale(def.String())
	if err != nil {
		t.Fatalf("ParseScale(%q): %v", def.String(), err)
	}
	if s.String() != def.String() {
		t.Errorf("round trip = %q, want %q", s.String(), def.String())
	}
}

func TestParseScaleErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no colon", "90-10,0:4"},
		{"bad minimum", "x:10,0:4"},
		{"bad grade", "90:ten,0:4"},
		{"missing zero", "90:10,50:6"},
		{"duplicate", "50:6,50:7,0:4"},
		{"above range", "120:10,0:4"},
		{"negative", "-5:3,0:4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScale(tt.input); err == nil {
				t.Errorf("ParseScale(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestThresholdsIsCopy(t *testing.T) {
	s := DefaultScale()
	ts := s.Thresholds()
	ts[0].Grade = 99
	if got := s.Grade(95); got != 10 {
		t.Errorf("mutating Thresholds() changed scale: Grade(95) = %d", got)
	}
}
