package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseISODuration парсит длительность ISO-8601: PnW, PnDTnHnMnS.
//
// Годы и месяцы не поддерживаются: их длина зависит от календаря.
// Секунды могут быть дробными ("PT1.5S").
//
// Примеры:
//
//	PT5M     → 5m
//	PT1H30M  → 1h30m
//	P1DT2H   → 26h
//	P2W      → 336h
func ParseISODuration(s string) (time.Duration, error) {
	raw := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 3 || s[0] != 'P' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	s = s[1:]

	var (
		total  time.Duration
		inTime bool
		seen   bool
	)

	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("%w: %q: repeated T designator", ErrInvalidDuration, raw)
			}
			inTime = true
			s = s[1:]
			if len(s) == 0 {
				return 0, fmt.Errorf("%w: %q: empty time part", ErrInvalidDuration, raw)
			}
			continue
		}

		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == ',') {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
		}

		num, err := strconv.ParseFloat(strings.ReplaceAll(s[:i], ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, raw, err)
		}

		unit, err := durationUnit(s[i], inTime)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, raw, err)
		}
		if unit != time.Second && num != float64(int64(num)) {
			return 0, fmt.Errorf("%w: %q: fractions allowed only for seconds", ErrInvalidDuration, raw)
		}

		total += time.Duration(num * float64(unit))
		seen = true
		s = s[i+1:]
	}

	if !seen {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return total, nil
}

func durationUnit(designator byte, inTime bool) (time.Duration, error) {
	if inTime {
		switch designator {
		case 'H':
			return time.Hour, nil
		case 'M':
			return time.Minute, nil
		case 'S':
			return time.Second, nil
		}
		return 0, fmt.Errorf("unknown time designator %q", designator)
	}

	switch designator {
	case 'W':
		return 7 * 24 * time.Hour, nil
	case 'D':
		return 24 * time.Hour, nil
	case 'Y', 'M':
		return 0, fmt.Errorf("calendar designator %q is not supported", designator)
	}
	return 0, fmt.Errorf("unknown date designator %q", designator)
}
