package adapters

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Row is one candle row of an array-of-arrays REST payload, kept raw so
// cells can be decoded leniently: exchanges mix quoted and bare numbers,
// and trailing optional cells may be absent entirely.
type Row []json.RawMessage

// DecimalCell decodes cell i as a decimal. A missing, null or empty cell
// yields zero, per the policy that absent optional fields default rather
// than abort the page.
func (r Row) DecimalCell(i int) (decimal.Decimal, error) {
	raw, ok := r.cell(i)
	if !ok {
		return decimal.Zero, nil
	}
	return parseDecimal(raw)
}

// IntCell decodes cell i as an integer, quoted or bare. Missing cells
// yield zero.
func (r Row) IntCell(i int) (int64, error) {
	raw, ok := r.cell(i)
	if !ok {
		return 0, nil
	}
	s := strings.Trim(string(raw), `"`)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// StringCell decodes cell i as an unquoted string. Missing cells yield "".
func (r Row) StringCell(i int) string {
	raw, ok := r.cell(i)
	if !ok {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}

func (r Row) cell(i int) (json.RawMessage, bool) {
	if i >= len(r) {
		return nil, false
	}
	raw := r[i]
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.Trim(string(raw), `"`)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// ParseDecimalField parses a decimal from a struct field that arrived as a
// JSON string. Empty strings default to zero.
func ParseDecimalField(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
