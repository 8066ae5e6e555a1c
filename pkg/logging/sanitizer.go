package logging

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxStatementLogLength bounds a traced SQL statement.
	MaxStatementLogLength = 2000
	// MaxValueLogLength bounds each traced bound value.
	MaxValueLogLength = 40
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// peer bearer tokens
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// sealed configuration secrets
	sealedPattern = regexp.MustCompile(`enc:[A-Za-z0-9+/=]{16,}`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/?\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string
// or URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError renders an error without passwords, tokens or sealed
// secrets. Driver errors reach log files and peer faults through it.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = sealedPattern.ReplaceAllString(sanitized, "enc:"+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeStatement bounds a generated statement for the SQL trace.
// Generated statements carry placeholders, never values.
func SanitizeStatement(stmt string) string {
	return TruncateString(strings.TrimSpace(stmt), MaxStatementLogLength)
}

// SanitizeArgs renders the bound values of a statement, each cut to
// MaxValueLogLength. Byte slices are shown by length only.
func SanitizeArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			parts[i] = "NULL"
		case string:
			parts[i] = fmt.Sprintf("%q", TruncateString(v, MaxValueLogLength))
		case []byte:
			parts[i] = fmt.Sprintf("<%d bytes>", len(v))
		case time.Time:
			parts[i] = v.Format(time.RFC3339Nano)
		default:
			parts[i] = TruncateString(fmt.Sprint(v), MaxValueLogLength)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
