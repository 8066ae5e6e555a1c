// Package sql screens values that arrive from remote peers before they are
// bound into generated statements.
package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Finding describes a value that libinjection recognizes as SQL.
type Finding struct {
	Column      string
	Operator    string
	Value       string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckValue reports whether a filter value looks like an injection
// attempt. Only strings are checked; numbers, booleans, times and nil
// cannot carry SQL.
func CheckValue(column string, value any) *Finding {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
		return &Finding{Column: column, Value: s, Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckFilters screens every value of a filter set. The column names are
// not screened here: they are resolved against the class before use.
func CheckFilters(fs dataset.FilterSet) []*Finding {
	var out []*Finding
	for _, f := range fs {
		for _, v := range f.Values {
			if finding := CheckValue(f.Column, v); finding != nil {
				finding.Operator = f.Operator
				out = append(out, finding)
			}
		}
	}
	return out
}
