package recon

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/shopspring/decimal"
)

// emptyArraySentinel is what the upstream base sends for a cleared linked
// field. It maps to null (field empty), not to a one-element array.
const emptyArraySentinel = "//"

// MapRecord translates one raw remote record through the declarative
// mapping table. Pure: no storage or network access, identical input
// yields identical output.
func MapRecord(table []FieldMap, raw map[string]any) MappedRecord {
	rec := MappedRecord{Columns: make(map[string]any, len(table))}

	known := make(map[string]bool, len(table))
	for _, fm := range table {
		known[fm.Remote] = true
	}

	for _, fm := range table {
		rawVal, present := raw[fm.Remote]
		if !present {
			continue
		}
		// Alternate remote spellings share a column; the first one that
		// produced a non-empty value wins.
		if existing, ok := rec.Columns[fm.Column]; ok && !IsEmptyValue(existing) {
			continue
		}

		if fm.IsArray {
			rec.Columns[fm.Column] = coerceArray(rawVal)
			continue
		}

		val, ok := coerceScalar(fm.Kind, rawVal)
		if !ok {
			// Uncoerced values are dropped to null and reported; the
			// record itself is still processed.
			rec.Columns[fm.Column] = nil
			rec.Uncoerced = append(rec.Uncoerced, fm.Column)
			continue
		}
		rec.Columns[fm.Column] = val
	}

	for key := range raw {
		if !known[key] {
			rec.Unmapped = append(rec.Unmapped, key)
		}
	}
	sort.Strings(rec.Unmapped)

	if v, ok := rec.Columns["external_id"].(string); ok {
		rec.ExternalId = v
	}
	return rec
}

// MapRecordForKind is MapRecord over the kind's registered table.
func MapRecordForKind(kind models.EntityKind, raw map[string]any) MappedRecord {
	return MapRecord(MappingFor(kind), raw)
}

func coerceScalar(kind FieldKind, raw any) (any, bool) {
	if raw == nil {
		return nil, true
	}
	// Linked fields sometimes arrive as one-element arrays even when the
	// local column is scalar; unwrap before coercing.
	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			return nil, true
		}
		raw = arr[0]
	}

	switch kind {
	case FieldString:
		return coerceString(raw)
	case FieldPhone:
		return coercePhone(raw)
	case FieldInteger:
		return coerceInteger(raw)
	case FieldNumeric:
		return coerceNumeric(raw)
	case FieldBoolean:
		return coerceBoolean(raw), true
	case FieldTimestamp:
		// Unparsable timestamps map to null, not an error.
		if t, ok := coerceTimestamp(raw); ok {
			return t, true
		}
		return nil, true
	}
	return nil, false
}

func coerceString(raw any) (any, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// coercePhone coerces to string, then normalizes to E.164. Operators type
// numbers upstream in whatever format they like; numbers that don't parse
// as valid pass through unchanged.
func coercePhone(raw any) (any, bool) {
	val, ok := coerceString(raw)
	if !ok {
		return nil, false
	}
	s, _ := val.(string)
	if s == "" {
		return s, true
	}
	return utils.FormatPhoneNumber(s, utils.CountryCode), true
}

func coerceInteger(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(math.Floor(v)), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return int64(math.Floor(f)), true
		}
		return nil, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(math.Floor(f)), true
		}
		return nil, false
	}
	return nil, false
}

func coerceNumeric(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d, true
		}
		return nil, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
		return nil, false
	}
	return nil, false
}

// coerceBoolean: native booleans pass through; "true"/"yes" are true; any
// other value falls back to truthiness (non-zero number, non-empty string).
func coerceBoolean(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false
		}
		low := strings.ToLower(s)
		if low == "true" || low == "yes" {
			return true
		}
		return true
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case nil:
		return false
	}
	return true
}

func coerceTimestamp(raw any) (*time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return &v, true
	case *time.Time:
		return v, true
	case float64:
		t := epochToTime(int64(v))
		return &t, true
	case int64:
		t := epochToTime(v)
		return &t, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			t := epochToTime(n)
			return &t, true
		}
		return nil, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := epochToTime(n)
			return &t, true
		}
		return nil, false
	}
	return nil, false
}

// Epochs past the year ~33658 in seconds are really milliseconds.
func epochToTime(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func coerceArray(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		if len(v) == 0 {
			return nil
		}
		out := make(models.StringList, 0, len(v))
		for _, elem := range v {
			s, _ := coerceString(elem)
			str, _ := s.(string)
			if str == "" || str == emptyArraySentinel {
				continue
			}
			out = append(out, str)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []string:
		if len(v) == 0 {
			return nil
		}
		return models.StringList(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == emptyArraySentinel {
			return nil
		}
		return models.StringList{s}
	default:
		s, _ := coerceString(v)
		str, _ := s.(string)
		if str == "" {
			return nil
		}
		return models.StringList{str}
	}
}
