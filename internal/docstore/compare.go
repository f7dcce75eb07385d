package docstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/and161185/fitsync/internal/model"
)

func matchAll(data model.Document, filters []model.Filter) bool {
	for _, f := range filters {
		v, present := data[f.Field]
		if !present {
			return false
		}
		cmp, ok := compareValues(v, f.Value)
		if !ok {
			if f.Op == model.OpNe {
				continue
			}
			return false
		}
		if !opHolds(f.Op, cmp) {
			return false
		}
	}
	return true
}

func opHolds(op string, cmp int) bool {
	switch op {
	case model.OpEq:
		return cmp == 0
	case model.OpNe:
		return cmp != 0
	case model.OpLt:
		return cmp < 0
	case model.OpLte:
		return cmp <= 0
	case model.OpGt:
		return cmp > 0
	case model.OpGte:
		return cmp >= 0
	}
	return false
}

// compareValues orders two document values of the same kind. ok is false for incomparable kinds.
func compareValues(a, b any) (int, bool) {
	if fa, okA := toFloat(a); okA {
		fb, okB := toFloat(b)
		if !okB {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, okA := toTime(a); okA {
		tb, okB := toTime(b)
		if !okB {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
