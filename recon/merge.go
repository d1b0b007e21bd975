package recon

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"github.com/shopspring/decimal"
)

// Diff is the minimal safe write computed by the Merge Resolver, plus the
// per-field audit trail of what was filled and what was retained.
type Diff struct {
	Changes map[string]any
	Filled  []string
	Skipped []string
}

func (d Diff) Empty() bool {
	return len(d.Changes) == 0
}

// ResolveMerge decides, per field, whether the incoming value may be
// written over the current local state. There is no error path: every
// input resolves to fill, overwrite or skip.
//
// local is the current row as read from storage (nil when absent);
// incoming is Field Mapper output. Identifier and audit columns are never
// candidates. Under fullOverwrite an incoming value equal to the local one
// is skipped so repeated runs stay write-free.
func ResolveMerge(local map[string]any, incoming map[string]any, policy MergePolicy, force []string) Diff {
	diff := Diff{Changes: map[string]any{}}

	forced := make(map[string]bool, len(force))
	for _, f := range force {
		forced[f] = true
	}

	for column, incomingVal := range incoming {
		if models.AuditColumns[column] {
			continue
		}

		localVal, hasLocal := localValue(local, column)

		switch {
		case forced[column]:
			diff.Changes[column] = incomingVal
			diff.Filled = append(diff.Filled, column)
		case IsEmptyValue(incomingVal):
			diff.Skipped = append(diff.Skipped, column)
		case policy == PolicyFullOverwrite:
			if hasLocal && valuesEqual(localVal, incomingVal) {
				diff.Skipped = append(diff.Skipped, column)
				continue
			}
			diff.Changes[column] = incomingVal
			diff.Filled = append(diff.Filled, column)
		default: // mergeOnlyEmpty
			if hasLocal && !IsEmptyValue(localVal) {
				diff.Skipped = append(diff.Skipped, column)
				continue
			}
			diff.Changes[column] = incomingVal
			diff.Filled = append(diff.Filled, column)
		}
	}

	return diff
}

func localValue(local map[string]any, column string) (any, bool) {
	if local == nil {
		return nil, false
	}
	v, ok := local[column]
	return v, ok
}

// IsEmptyValue implements the merge contract's definition of "empty":
// null, empty string, or empty array. Zero numbers are NOT empty.
func IsEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []byte:
		s := strings.TrimSpace(string(val))
		return s == "" || s == "null" || s == "[]"
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case models.StringList:
		return len(val) == 0
	case *time.Time:
		return val == nil
	}
	return false
}

// valuesEqual compares a stored value against a freshly mapped one.
// Storage hands back decimals and lists as text, so comparison goes
// through a normalized form rather than reflect.DeepEqual.
func valuesEqual(local any, incoming any) bool {
	ln, lIsNum := asDecimal(local)
	in, iIsNum := asDecimal(incoming)
	if lIsNum && iIsNum {
		return ln.Equal(in)
	}

	ll, lIsList := asList(local)
	il, iIsList := asList(incoming)
	if lIsList || iIsList {
		if !lIsList || !iIsList || len(ll) != len(il) {
			return false
		}
		for i := range ll {
			if ll[i] != il[i] {
				return false
			}
		}
		return true
	}

	lt, lIsTime := asTime(local)
	it, iIsTime := asTime(incoming)
	if lIsTime && iIsTime {
		return lt.Equal(it)
	}

	return normalizeString(local) == normalizeString(incoming)
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(val)))
		return d, err == nil
	}
	return decimal.Zero, false
}

func asList(v any) ([]string, bool) {
	switch val := v.(type) {
	case models.StringList:
		return []string(val), true
	case []string:
		return val, true
	case []byte:
		var out []string
		if json.Unmarshal(val, &out) == nil {
			return out, true
		}
	case string:
		s := strings.TrimSpace(val)
		if strings.HasPrefix(s, "[") {
			var out []string
			if json.Unmarshal([]byte(s), &out) == nil {
				return out, true
			}
		}
	}
	return nil, false
}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val != nil {
			return *val, true
		}
	}
	return time.Time{}, false
}

func normalizeString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
