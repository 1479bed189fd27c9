package grading

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Threshold maps every percentage at or above MinPercentage to Grade,
// unless a higher threshold also matches.
type Threshold struct {
	MinPercentage int
	Grade         int
}

// Scale is an ordered table of non-overlapping grade thresholds.
type Scale struct {
	thresholds []Threshold // sorted by MinPercentage, highest first
}

// DefaultScale is the 4 to 10 school scale.
func DefaultScale() Scale {
	s, _ := NewScale([]Threshold{
		{90, 10}, {80, 9}, {70, 8}, {60, 7}, {50, 6}, {40, 5}, {0, 4},
	})
	return s
}

// NewScale validates and orders a threshold table. The table must cover 0%
// and may not contain two thresholds with the same minimum.
func NewScale(thresholds []Threshold) (Scale, error) {
	if len(thresholds) == 0 {
		return Scale{}, errors.New("grade scale is empty")
	}
	ts := append([]Threshold(nil), thresholds...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].MinPercentage > ts[j].MinPercentage })

	for i, t := range ts {
		if t.MinPercentage < 0 || t.MinPercentage > 100 {
			return Scale{}, fmt.Errorf("threshold %d%% out of range", t.MinPercentage)
		}
		if i > 0 && ts[i-1].MinPercentage == t.MinPercentage {
			return Scale{}, fmt.Errorf("duplicate threshold %d%%", t.MinPercentage)
		}
	}
	if ts[len(ts)-1].MinPercentage != 0 {
		return Scale{}, errors.New("grade scale must include a 0% threshold")
	}
	return Scale{thresholds: ts}, nil
}

// ParseScale parses a table written as "min:grade" pairs separated by
// commas, e.g. "90:10,80:9,0:4".
func ParseScale(s string) (Scale, error) {
	var ts []Threshold
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minStr, gradeStr, ok := strings.Cut(part, ":")
		if !ok {
			return Scale{}, fmt.Errorf("invalid threshold %q: want min:grade", part)
		}
		minPct, err := strconv.Atoi(strings.TrimSpace(minStr))
		if err != nil {
			return Scale{}, fmt.Errorf("invalid threshold minimum %q: %w", minStr, err)
		}
		grade, err := strconv.Atoi(strings.TrimSpace(gradeStr))
		if err != nil {
			return Scale{}, fmt.Errorf("invalid grade %q: %w", gradeStr, err)
		}
		ts = append(ts, Threshold{MinPercentage: minPct, Grade: grade})
	}
	return NewScale(ts)
}

// Grade returns the grade for a percentage, evaluating thresholds from the
// highest down.
func (s Scale) Grade(percentage int) int {
	for _, t := range s.thresholds {
		if percentage >= t.MinPercentage {
			return t.Grade
		}
	}
	if len(s.thresholds) == 0 {
		return 0
	}
	return s.thresholds[len(s.thresholds)-1].Grade
}

// Thresholds returns a copy of the table, highest first.
func (s Scale) Thresholds() []Threshold {
	return append([]Threshold(nil), s.thresholds...)
}

func (s Scale) String() string {
	parts := make([]string, len(s.thresholds))
	for i, t := range s.thresholds {
		parts[i] = fmt.Sprintf("%d:%d", t.MinPercentage, t.Grade)
	}
	return strings.Join(parts, ",")
}
