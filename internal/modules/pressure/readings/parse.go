package readings

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ParseLine reads "SYS DIA PULSE [SYS DIA PULSE ...]". Several triples are
// collapsed into their per-column median; every triple and the result must
// pass Validate.
func ParseLine(line string) (Triple, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Triple{}, fmt.Errorf("%w: need three values: sys, dia, pulse", ErrInvalidInput)
	}
	if len(parts)%3 != 0 {
		return Triple{}, fmt.Errorf("%w: input must contain a multiple of 3 values (SYS DIA PULSE)", ErrInvalidInput)
	}

	n := len(parts) / 3
	sys := make([]int, n)
	dia := make([]int, n)
	pul := make([]int, n)
	for i := 0; i < n; i++ {
		var err error
		if sys[i], err = atoi(parts[i*3]); err != nil {
			return Triple{}, err
		}
		if dia[i], err = atoi(parts[i*3+1]); err != nil {
			return Triple{}, err
		}
		if pul[i], err = atoi(parts[i*3+2]); err != nil {
			return Triple{}, err
		}
		if err := Validate(sys[i], dia[i], pul[i]); err != nil {
			if n > 1 {
				return Triple{}, fmt.Errorf("measurement %d: %w", i+1, err)
			}
			return Triple{}, err
		}
	}

	t := Triple{Systolic: Median(sys), Diastolic: Median(dia), Pulse: Median(pul)}
	if err := t.Validate(); err != nil {
		return Triple{}, fmt.Errorf("aggregated %w", err)
	}
	return t, nil
}

// Median of an odd count is the middle value; of an even count, the mean of
// the two middle values rounded half to even.
func Median(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	s := slices.Clone(vals)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return int(math.RoundToEven(float64(s[n/2-1]+s[n/2]) / 2))
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidInput, s)
	}
	return n, nil
}
