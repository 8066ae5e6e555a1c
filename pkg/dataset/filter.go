package dataset

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter is one predicate of a query: a column, an operator and the values
// the operator needs.
type Filter struct {
	Column   string
	Operator string
	Values   []any
}

// FilterSet is a conjunction of filters.
type FilterSet []Filter

// Eq builds an equality filter.
func Eq(column string, v any) Filter {
	return Filter{Column: column, Operator: "=", Values: []any{v}}
}

// In builds an IN-list filter.
func In(column string, values ...any) Filter {
	return Filter{Column: column, Operator: "IN", Values: values}
}

// Validate checks the operator and the number of values it needs.
func (f Filter) Validate() error {
	if f.Column == "" {
		return fmt.Errorf("filter has no column")
	}
	switch strings.ToUpper(f.Operator) {
	case "=", "<>", "!=", "<", ">", "<=", ">=", "LIKE":
		if len(f.Values) != 1 {
			return fmt.Errorf("operator %s on %s takes one value, got %d", f.Operator, f.Column, len(f.Values))
		}
	case "IN":
		if len(f.Values) == 0 {
			return fmt.Errorf("operator IN on %s needs at least one value", f.Column)
		}
	case "BETWEEN":
		if len(f.Values) != 2 {
			return fmt.Errorf("operator BETWEEN on %s takes two values, got %d", f.Column, len(f.Values))
		}
	case "IS NULL", "IS NOT NULL":
		if len(f.Values) != 0 {
			return fmt.Errorf("operator %s on %s takes no value", f.Operator, f.Column)
		}
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
	return nil
}

// Render writes the filter set as a WHERE-clause body. Columns of the form
// alias.column are quoted part by part. start is the number of parameters
// already used by the enclosing statement.
func (fs FilterSet) Render(d *Dialect, start int) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	n := start
	next := func(v any) string {
		n++
		args = append(args, v)
		return d.Placeholder(n)
	}
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return "", nil, err
		}
		col := d.QuoteQualified(f.Column)
		op := strings.ToUpper(f.Operator)
		switch op {
		case "IN":
			ps := make([]string, len(f.Values))
			for i, v := range f.Values {
				ps[i] = next(v)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(ps, ", ")))
		case "BETWEEN":
			lo := next(f.Values[0])
			hi := next(f.Values[1])
			parts = append(parts, fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi))
		case "IS NULL", "IS NOT NULL":
			parts = append(parts, col+" "+op)
		case "!=":
			parts = append(parts, fmt.Sprintf("%s <> %s", col, next(f.Values[0])))
		default:
			parts = append(parts, fmt.Sprintf("%s %s %s", col, op, next(f.Values[0])))
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// Match evaluates the filter set against values looked up by column name.
// The alias part of a qualified column is ignored.
func (fs FilterSet) Match(get func(column string) (any, bool)) (bool, error) {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return false, err
		}
		col := f.Column
		if i := strings.LastIndexByte(col, '.'); i >= 0 {
			col = col[i+1:]
		}
		v, _ := get(col)
		ok, err := f.match(v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (f Filter) match(v any) (bool, error) {
	switch strings.ToUpper(f.Operator) {
	case "IS NULL":
		return Normalize(v) == nil, nil
	case "IS NOT NULL":
		return Normalize(v) != nil, nil
	case "=":
		return Normalize(v) != nil && Compare(v, f.Values[0]) == 0, nil
	case "<>", "!=":
		return Normalize(v) != nil && Compare(v, f.Values[0]) != 0, nil
	case "<":
		return Normalize(v) != nil && Compare(v, f.Values[0]) < 0, nil
	case ">":
		return Normalize(v) != nil && Compare(v, f.Values[0]) > 0, nil
	case "<=":
		return Normalize(v) != nil && Compare(v, f.Values[0]) <= 0, nil
	case ">=":
		return Normalize(v) != nil && Compare(v, f.Values[0]) >= 0, nil
	case "BETWEEN":
		return Normalize(v) != nil && Compare(v, f.Values[0]) >= 0 && Compare(v, f.Values[1]) <= 0, nil
	case "IN":
		for _, x := range f.Values {
			if Normalize(v) != nil && Compare(v, x) == 0 {
				return true, nil
			}
		}
		return false, nil
	case "LIKE":
		re, err := likePattern(FormatValue(f.Values[0]))
		if err != nil {
			return false, err
		}
		return Normalize(v) != nil && re.MatchString(FormatValue(v)), nil
	}
	return false, fmt.Errorf("unknown filter operator %q", f.Operator)
}

func likePattern(p string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
