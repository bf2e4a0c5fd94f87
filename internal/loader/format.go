package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrUnsupportedFormat marks format blocks this package cannot decode, such
// as topojson.
var ErrUnsupportedFormat = errors.New("unsupported data format")

// Format is the decoded format block of a dataset.
type Format struct {
	Type      string `mapstructure:"type"`
	Property  string `mapstructure:"property"`
	Delimiter string `mapstructure:"delimiter"`
	// Parse is nil, "auto", or a map from field name to type name.
	Parse any `mapstructure:"parse"`
}

// ParseFormat decodes a format block. A nil block is JSON.
func ParseFormat(raw map[string]any) (Format, error) {
	var f Format
	if err := mapstructure.Decode(raw, &f); err != nil {
		return f, fmt.Errorf("invalid format block: %w", err)
	}
	if f.Type == "" {
		f.Type = "json"
	}
	switch f.Type {
	case "json", "csv", "tsv":
	case "dsv":
		if len([]rune(f.Delimiter)) != 1 {
			return f, fmt.Errorf("dsv format needs a single-character delimiter, got %q", f.Delimiter)
		}
	default:
		return f, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f.Type)
	}
	switch p := f.Parse.(type) {
	case nil, map[string]any:
	case string:
		if p != "auto" {
			return f, fmt.Errorf("format parse must be \"auto\" or an object, got %q", p)
		}
	default:
		return f, fmt.Errorf("format parse must be \"auto\" or an object")
	}
	return f, nil
}

// Decode turns a fetched payload into rows.
func Decode(body []byte, f Format) ([]map[string]any, error) {
	switch f.Type {
	case "csv":
		return decodeDSV(body, ',')
	case "tsv":
		return decodeDSV(body, '\t')
	case "dsv":
		return decodeDSV(body, []rune(f.Delimiter)[0])
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if f.Property != "" {
		for _, step := range strings.Split(f.Property, ".") {
			obj, ok := decoded.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("format property %q not found in payload", f.Property)
			}
			decoded = obj[step]
		}
	}
	return Rows(decoded, f)
}

// Rows converts inline values into fresh row maps. Primitive entries are
// wrapped as {"data": v}; string values are decoded with the format.
func Rows(values any, f Format) ([]map[string]any, error) {
	switch v := values.(type) {
	case nil:
		return nil, nil
	case string:
		return Decode([]byte(v), f)
	case []any:
		rows := make([]map[string]any, len(v))
		for i, item := range v {
			if obj, ok := item.(map[string]any); ok {
				row := make(map[string]any, len(obj))
				for k, x := range obj {
					row[k] = x
				}
				rows[i] = row
			} else {
				rows[i] = map[string]any{"data": item}
			}
		}
		return rows, nil
	case map[string]any:
		return Rows([]any{v}, f)
	default:
		return nil, fmt.Errorf("data values must be an array, object or string")
	}
}

func decodeDSV(body []byte, delim rune) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []map[string]any
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ApplyParse converts row fields in place according to f.Parse. Date
// strings without an explicit offset are read in loc.
func ApplyParse(rows []map[string]any, f Format, loc *time.Location) error {
	var types map[string]string
	switch p := f.Parse.(type) {
	case nil:
		return nil
	case string:
		types = inferTypes(rows, loc)
	case map[string]any:
		types = make(map[string]string, len(p))
		for field, t := range p {
			name, ok := t.(string)
			if !ok {
				return fmt.Errorf("parse type for field %q must be a string", field)
			}
			types[field] = name
		}
	}

	fields := make([]string, 0, len(types))
	for field := range types {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		conv, err := parser(types[field], loc)
		if err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
		for _, row := range rows {
			if v, ok := row[field]; ok {
				row[field] = conv(v)
			}
		}
	}
	return nil
}

func parser(typ string, loc *time.Location) (func(any) any, error) {
	switch {
	case typ == "number" || typ == "integer":
		return toNumber, nil
	case typ == "boolean":
		return toBoolean, nil
	case typ == "string":
		return toString, nil
	case typ == "date":
		return func(v any) any { return toDate(v, "", loc) }, nil
	case strings.HasPrefix(typ, "date:") || strings.HasPrefix(typ, "utc:"):
		zone := loc
		if strings.HasPrefix(typ, "utc:") {
			zone = time.UTC
		}
		_, pattern, _ := strings.Cut(typ, ":")
		pattern = strings.Trim(pattern, `'"`)
		if _, ok := strftimeLayout(pattern); !ok {
			return nil, fmt.Errorf("unsupported date pattern %q", pattern)
		}
		return func(v any) any { return toDate(v, pattern, zone) }, nil
	}
	return nil, fmt.Errorf("unknown parse type %q", typ)
}

func blank(v any) bool {
	s, isString := v.(string)
	return v == nil || (isString && s == "")
}

func toNumber(v any) any {
	if blank(v) {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return nil
}

func toBoolean(v any) any {
	if blank(v) {
		return nil
	}
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "false" && x != "0"
	}
	return true
}

func toString(v any) any {
	if blank(v) {
		return nil
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func toDate(v any, pattern string, loc *time.Location) any {
	if blank(v) {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var ms float64
		var ok bool
		if pattern != "" {
			ms, ok = ParseDateFormat(x, pattern, loc)
		} else {
			ms, ok = ParseDate(x, loc)
		}
		if ok {
			return ms
		}
	}
	return nil
}

// inferTypes picks, per field, the narrowest of boolean, number, date and
// string that every non-blank value accepts.
func inferTypes(rows []map[string]any, loc *time.Location) map[string]string {
	candidates := make(map[string][]string)
	for _, row := range rows {
		for field, v := range row {
			if blank(v) {
				continue
			}
			remaining, seen := candidates[field]
			if !seen {
				remaining = []string{"boolean", "number", "date"}
			}
			candidates[field] = filterTypes(remaining, v, loc)
		}
	}
	types := make(map[string]string, len(candidates))
	for field, remaining := range candidates {
		if len(remaining) > 0 {
			types[field] = remaining[0]
		}
	}
	return types
}

func filterTypes(types []string, v any, loc *time.Location) []string {
	out := types[:0:0]
	for _, t := range types {
		if acceptsType(t, v, loc) {
			out = append(out, t)
		}
	}
	return out
}

func acceptsType(t string, v any, loc *time.Location) bool {
	s, isString := v.(string)
	switch t {
	case "boolean":
		if _, ok := v.(bool); ok {
			return true
		}
		return isString && (s == "true" || s == "false")
	case "number":
		if _, ok := v.(float64); ok {
			return true
		}
		return isString && toNumber(s) != nil
	case "date":
		if !isString {
			return false
		}
		_, ok := ParseDate(s, loc)
		return ok
	}
	return false
}
