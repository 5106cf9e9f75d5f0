package plan

import (
	"strconv"
	"strings"
)

// DurationBudgetMinutes is the advisory limit above which the validator
// suggests splitting a plan into sub-tasks.
const DurationBudgetMinutes = 180

// Per-kind duration estimates, in the free-text range form steps carry.
var kindDurations = map[StepKind]string{
	KindResearch:     "3-5 minutes",
	KindAggregate:    "1-2 minutes",
	KindAnalysis:     "5-10 minutes",
	KindAction:       "5-10 minutes",
	KindOutput:       "3-5 minutes",
	KindQualityCheck: "2-3 minutes",
	KindPackage:      "1-2 minutes",
}

// ParseDurationMinutes converts an estimate such as "3-5 minutes", "2 min"
// or "1-2 hours" into minutes, averaging ranges. Unparseable input yields 0.
func ParseDurationMinutes(s string) float64 {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return 0
	}

	scale := 1.0
	if len(fields) > 1 && strings.HasPrefix(fields[1], "h") {
		scale = 60
	}

	bounds := strings.SplitN(fields[0], "-", 2)
	lo, err := strconv.ParseFloat(bounds[0], 64)
	if err != nil || lo < 0 {
		return 0
	}
	hi := lo
	if len(bounds) == 2 {
		hi, err = strconv.ParseFloat(bounds[1], 64)
		if err != nil || hi < lo {
			return 0
		}
	}
	return (lo + hi) / 2 * scale
}

// EstimateMinutes sums the averaged duration estimates of all steps.
func EstimateMinutes(steps []Step) float64 {
	total := 0.0
	for i := range steps {
		total += ParseDurationMinutes(steps[i].EstimatedDuration)
	}
	return total
}
