package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reMeridiem = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?$`)
	reClock    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reHour     = regexp.MustCompile(`^(\d{1,2})$`)
)

// NormalizeTime converts a human time expression into canonical 24-hour
// "HH:MM". Accepted: "8 AM", "8am", "9:30 PM", "9:30pm", "21:00", "21".
// It never interprets timezones.
func NormalizeTime(expr string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(expr))

	if m := reMeridiem.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		if h < 1 || h > 12 || mm > 59 {
			return "", unparsable(expr)
		}
		switch {
		case m[3] == "p" && h != 12:
			h += 12
		case m[3] == "a" && h == 12:
			h = 0
		}
		return clock(h, mm), nil
	}
	if m := reClock.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			return "", unparsable(expr)
		}
		return clock(h, mm), nil
	}
	if m := reHour.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h > 23 {
			return "", unparsable(expr)
		}
		return clock(h, 0), nil
	}
	return "", unparsable(expr)
}

func clock(h, m int) string { return fmt.Sprintf("%02d:%02d", h, m) }

func unparsable(expr string) error {
	return fmt.Errorf("%w: %q", ErrUnparsableTime, expr)
}
