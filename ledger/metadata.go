package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Position metadata keys written by the loader.
const (
	MetaFilename = "filename"
	MetaLineno   = "lineno"
)

// Metadata is a key/value map attached to entries and postings. Values are
// strings, bools, decimal.Decimal, time.Time or plain Go numbers.
type Metadata map[string]any

// Clone returns a shallow copy. A nil map stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Without returns a copy without the keys for which drop returns true.
func (m Metadata) Without(drop func(key string) bool) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if !drop(k) {
			out[k] = v
		}
	}
	return out
}

// With returns a copy with key set to value.
func (m Metadata) With(key string, value any) Metadata {
	out := m.Clone()
	if out == nil {
		out = Metadata{}
	}
	out[key] = value
	return out
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value under key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Source is the file position of an entry, if the loader recorded one.
type Source struct {
	Filename string
	Line     int
}

func (s Source) String() string {
	if s.Filename == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", s.Filename, s.Line)
}

// Source reads the filename/lineno keys.
func (m Metadata) Source() Source {
	var src Source
	src.Filename, _ = m[MetaFilename].(string)
	switch v := m[MetaLineno].(type) {
	case int:
		src.Line = v
	case int64:
		src.Line = int(v)
	case float64:
		src.Line = int(v)
	case decimal.Decimal:
		src.Line = int(v.IntPart())
	}
	return src
}

// IsPositionKey reports whether key is one of the source position keys.
func IsPositionKey(key string) bool {
	return key == MetaFilename || key == MetaLineno
}

// ToDecimal converts a numeric or string metadata value.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	default:
		return decimal.Zero, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}

// ValuesEqual compares two metadata values. Numbers compare by value so that
// 1, 1.0 and decimal 1 are equal; everything else by string form.
func ValuesEqual(a, b any) bool {
	da, errA := numeric(a)
	db, errB := numeric(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func numeric(v any) (decimal.Decimal, error) {
	if _, ok := v.(string); ok {
		return decimal.Zero, fmt.Errorf("string")
	}
	return ToDecimal(v)
}
