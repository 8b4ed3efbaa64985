package slurm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimeLimit parses a time limit in any of the formats sbatch accepts:
// "minutes", "minutes:seconds", "hours:minutes:seconds", "days-hours",
// "days-hours:minutes" and "days-hours:minutes:seconds".
func ParseTimeLimit(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTimeLimit)
	}

	var days int
	rest := s
	i := strings.Index(s, "-")
	hasDays := i >= 0
	if hasDays {
		d, err := atoiStrict(s[:i])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeLimit, s)
		}
		days = d
		rest = s[i+1:]
	}

	parts := strings.Split(rest, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := atoiStrict(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeLimit, s)
		}
		nums[i] = n
	}

	var units []time.Duration
	if hasDays {
		nums = append([]int{days}, nums...)
		switch len(nums) {
		case 2:
			units = []time.Duration{24 * time.Hour, time.Hour}
		case 3:
			units = []time.Duration{24 * time.Hour, time.Hour, time.Minute}
		case 4:
			units = []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
		}
	} else {
		switch len(nums) {
		case 1:
			units = []time.Duration{time.Minute}
		case 2:
			units = []time.Duration{time.Minute, time.Second}
		case 3:
			units = []time.Duration{time.Hour, time.Minute, time.Second}
		}
	}
	if units == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeLimit, s)
	}

	d, ok := sumUnits(nums, units)
	if !ok {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalidTimeLimit, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidTimeLimit, s)
	}
	return d, nil
}

// FormatTimeLimit renders d as "[D-]HH:MM:SS", rounding up to the next second.
func FormatTimeLimit(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	days := secs / 86400
	secs %= 86400
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// sumUnits adds nums[i]*units[i] and reports false if the total does not
// fit in a time.Duration.
func sumUnits(nums []int, units []time.Duration) (time.Duration, bool) {
	var total time.Duration
	for i, n := range nums {
		if int64(n) > math.MaxInt64/int64(units[i]) {
			return 0, false
		}
		term := time.Duration(n) * units[i]
		if total > math.MaxInt64-term {
			return 0, false
		}
		total += term
	}
	return total, true
}

func atoiStrict(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty component")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit %q", r)
		}
	}
	return strconv.Atoi(s)
}
