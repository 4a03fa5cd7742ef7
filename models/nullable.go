package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NullFloat is a float64 that may be absent. It is the uniform
// representation for missing numeric values across the pipeline: an
// invalid NullFloat serializes to an empty CSV cell and a JSON null.
// Non-finite values (NaN, ±Inf) are normalized to absent at
// construction time, so they can never reach a consumer.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float returns a valid NullFloat, unless v is NaN or infinite,
// in which case the result is absent.
func Float(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Float64: v, Valid: true}
}

// NullFloatFrom parses a CSV cell. Empty or unparsable cells are absent.
func NullFloatFrom(s string) NullFloat {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullFloat{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NullFloat{}
	}
	return Float(v)
}

// Or returns the contained value, or def when absent.
func (f NullFloat) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Float64
}

// String renders the CSV cell form: empty when absent.
func (f NullFloat) String() string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'g', -1, 64)
}

func (f NullFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid || math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f.Float64)
}

func (f *NullFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// NullInt is an int64 that may be absent, used for the day-granular
// age fields where "no source data" means the age is undefined.
type NullInt struct {
	Int64 int64
	Valid bool
}

// Int returns a valid NullInt.
func Int(v int64) NullInt {
	return NullInt{Int64: v, Valid: true}
}

// NullIntFrom parses a CSV cell. Empty or unparsable cells are absent.
func NullIntFrom(s string) NullInt {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullInt{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NullInt{}
	}
	return Int(v)
}

func (i NullInt) String() string {
	if !i.Valid {
		return ""
	}
	return strconv.FormatInt(i.Int64, 10)
}

func (i NullInt) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.Int64)
}

func (i *NullInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = NullInt{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = Int(v)
	return nil
}

// NullBool is a bool that may be absent. CSV form is "1"/"0"/"".
type NullBool struct {
	Bool  bool
	Valid bool
}

// Bool returns a valid NullBool.
func Bool(v bool) NullBool {
	return NullBool{Bool: v, Valid: true}
}

// NullBoolFrom parses a CSV cell ("1"/"true" and "0"/"false").
func NullBoolFrom(s string) NullBool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return Bool(true)
	case "0", "false":
		return Bool(false)
	default:
		return NullBool{}
	}
}

func (b NullBool) String() string {
	if !b.Valid {
		return ""
	}
	if b.Bool {
		return "1"
	}
	return "0"
}

func (b NullBool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Bool)
}

func (b *NullBool) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = NullBool{}
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = Bool(v)
	return nil
}

// NullString is a string that may be absent (e.g. top_buyer when no
// broker had positive net value). The empty string is the absent form.
type NullString struct {
	String string
	Valid  bool
}

// Str returns a valid NullString unless s is empty.
func Str(s string) NullString {
	if s == "" {
		return NullString{}
	}
	return NullString{String: s, Valid: true}
}

func (s NullString) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.String)
}

func (s *NullString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NullString{}
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Str(v)
	return nil
}

// SymbolNotFoundError signals a caller asked for a symbol that is not
// present in the snapshot. It is a request error, not a pipeline fault.
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %s not found in snapshot", e.Symbol)
}
