package backend

import (
	"fmt"
	"strconv"
	"time"
)

// Canonical encodes values so that equal rows encode identically regardless of
// which driver produced them. Each value is length-prefixed; NULL is "-".
func Canonical(values []interface{}) []byte {
	buf := make([]byte, 0, 64)
	for _, v := range values {
		if v == nil {
			buf = append(buf, '-', ';')
			continue
		}
		s := canonicalValue(v)
		buf = strconv.AppendInt(buf, int64(len(s)), 10)
		buf = append(buf, ':')
		buf = append(buf, s...)
		buf = append(buf, ';')
	}
	return buf
}

func canonicalValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
