package relorm

import (
	"fmt"
	"reflect"
	"strconv"
)

// idString normalizes an identifier value read from memory or scanned from a
// driver into its string form. Nil and nil pointers yield "".
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case fmt.Stringer:
		return id.String()
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return ""
		}
		val = val.Elem()
	}

	switch {
	case isInteger(val.Kind()):
		return strconv.FormatInt(val.Int(), 10)
	case isUint(val.Kind()):
		return strconv.FormatUint(val.Uint(), 10)
	case isFloat(val.Kind()):
		return strconv.FormatFloat(val.Float(), 'f', -1, 64)
	case val.Kind() == reflect.String:
		return val.String()
	}

	return fmt.Sprintf("%v", val.Interface())
}

// sameID compares two identifier values, tolerating driver type differences
// (int64 vs string, []byte vs string).
func sameID(a, b any) bool {
	as, bs := idString(a), idString(b)
	return as != "" && as == bs
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
