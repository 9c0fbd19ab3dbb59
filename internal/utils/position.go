package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	strduration "github.com/xhit/go-str2duration/v2"
)

// PrettyTime formats a position in seconds as m:ss or h:mm:ss.
func PrettyTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	sec := int(seconds)
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParsePosition reads a track position. It accepts plain seconds ("92.5"),
// clock notation ("1:32.5", "1:01:32") and unit notation ("1m32s",
// "1.5m", "500ms").
func ParsePosition(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty position")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative position %q", s)
		}
		return v, nil
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	d, err := strduration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative position %q", s)
	}
	return d.Seconds(), nil
}

func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil || v < 0 || (i > 0 && v >= 60) {
			return 0, fmt.Errorf("invalid position %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// ProgressBar draws a bar of width cells with a knob at progress (0..1).
func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	progress = min(max(progress, 0), 1)
	dot := min(int(float64(width)*progress), width-1)
	out := make([]rune, 0, width)
	for i := 0; i < width; i++ {
		if i == dot {
			out = append(out, 'o')
		} else if i < dot {
			out = append(out, '=')
		} else {
			out = append(out, '-')
		}
	}
	return string(out)
}
