package treatment

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	countedUnits = regexp.MustCompile(`^(\d+)\s*(dona|pcs?|tab|tabs|tablets?|caps?|capsules?|amp|ampoules?|x)\b`)
	measuredDose = regexp.MustCompile(`^\d+(\.\d+)?\s*(mg|mcg|g|ml|iu|units?)\b`)
)

// InferDoseQuantity guesses a stock deduction quantity from a free-text
// dosage string. "2 dona" and "2 tablets" yield 2; measured dosages such as
// "500mg" yield 1 unit. This is a best-effort fallback for unmigrated
// legacy tasks only; callers are expected to supply explicit structured
// quantities, and new write paths must not rely on this parser.
func InferDoseQuantity(dosage string) int {
	d := strings.ToLower(strings.TrimSpace(dosage))
	if d == "" {
		return 1
	}

	if m := countedUnits.FindStringSubmatch(d); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n
		}
	}

	if measuredDose.MatchString(d) {
		return 1
	}

	// Bare leading integer with no unit, e.g. "2".
	if n, err := strconv.Atoi(d); err == nil && n > 0 {
		return n
	}

	return 1
}
