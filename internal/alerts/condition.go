package alerts

import (
	"strconv"
	"strings"

	"github.com/holderwatch/holderwatch/pkg/types"
)

// Input is what a rule condition is evaluated against.
type Input struct {
	Stats types.Stats
	// NewATH is true when this cycle raised the all-time high.
	NewATH bool
}

// evalCondition evaluates a rule condition string against in.
//
// Supported expressions (field operator value):
//
//	current < 1000
//	change_1h <= -10
//	change_4h > 50
//	change_24h < 0
//	change_7d >= 500
//	ath > 10000
//	activity == High
//	new_ath == true
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, in Input) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "activity":
		switch op {
		case "==":
			return strings.EqualFold(in.Stats.Activity, rhs), 0
		case "!=":
			return !strings.EqualFold(in.Stats.Activity, rhs), 0
		}
		return false, 0

	case "new_ath":
		want, err := strconv.ParseBool(rhs)
		if err != nil || op != "==" {
			return false, 0
		}
		return in.NewATH == want, float64(in.Stats.ATH)

	default:
		v, ok := numericField(field, in.Stats)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the stats summary.
func numericField(field string, st types.Stats) (float64, bool) {
	switch field {
	case "current":
		return float64(st.Current), true
	case "change_1h":
		return float64(st.Change1h), true
	case "change_4h":
		return float64(st.Change4h), true
	case "change_24h":
		return float64(st.Change24h), true
	case "change_7d":
		return float64(st.Change7d), true
	case "ath":
		return float64(st.ATH), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

// ValidCondition reports whether cond parses to a known field and operator.
func ValidCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	switch parts[0] {
	case "activity":
		return parts[1] == "==" || parts[1] == "!="
	case "new_ath":
		_, err := strconv.ParseBool(parts[2])
		return err == nil && parts[1] == "=="
	}
	if _, ok := numericField(parts[0], types.Stats{}); !ok {
		return false
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return false
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}
