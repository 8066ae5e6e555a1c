package dataset

import (
	"fmt"
	"strings"
)

// PlaceholderStyle selects how bind parameters are written.
type PlaceholderStyle int

const (
	PlaceholderDollar   PlaceholderStyle = iota // $1, $2
	PlaceholderAtP                              // @p1, @p2
	PlaceholderQuestion                         // ?, ?
)

// ReturningStyle selects how a generated key is read back from an INSERT.
type ReturningStyle int

const (
	ReturningNone   ReturningStyle = iota
	ReturningClause                // INSERT ... RETURNING col
	ReturningOutput                // INSERT ... OUTPUT INSERTED.col VALUES ...
)

// Dialect describes the SQL flavour of a target database.
type Dialect struct {
	Name         string
	OpenQuote    string
	CloseQuote   string
	Placeholders PlaceholderStyle
	Returning    ReturningStyle

	// SupportsCatalogs is false for engines that cannot address another
	// catalog from DML.
	SupportsCatalogs bool
	// CatalogSeparator joins the catalog to the rest of the name.
	CatalogSeparator string
	// CatalogAtStart selects catalog.schema.table over schema.table@catalog.
	CatalogAtStart bool
	// SchemaInDML requires schema qualification in DML statements.
	SchemaInDML bool
}

var (
	// Postgres addresses schema.table; cross-catalog DML is not possible.
	Postgres = &Dialect{
		Name:             "postgres",
		OpenQuote:        `"`,
		CloseQuote:       `"`,
		Placeholders:     PlaceholderDollar,
		Returning:        ReturningClause,
		SupportsCatalogs: false,
		CatalogSeparator: ".",
		CatalogAtStart:   true,
		SchemaInDML:      true,
	}

	// SQLServer addresses catalog.schema.table.
	SQLServer = &Dialect{
		Name:             "mssql",
		OpenQuote:        "[",
		CloseQuote:       "]",
		Placeholders:     PlaceholderAtP,
		Returning:        ReturningOutput,
		SupportsCatalogs: true,
		CatalogSeparator: ".",
		CatalogAtStart:   true,
		SchemaInDML:      true,
	}

	// Generic is an ANSI flavour with question-mark parameters, used when
	// nothing more specific is known.
	Generic = &Dialect{
		Name:             "generic",
		OpenQuote:        `"`,
		CloseQuote:       `"`,
		Placeholders:     PlaceholderQuestion,
		Returning:        ReturningNone,
		CatalogSeparator: ".",
		CatalogAtStart:   true,
		SchemaInDML:      true,
	}
)

// Quote quotes an identifier, doubling any embedded closing quote.
func (d *Dialect) Quote(name string) string {
	escaped := strings.ReplaceAll(name, d.CloseQuote, d.CloseQuote+d.CloseQuote)
	return d.OpenQuote + escaped + d.CloseQuote
}

// QuoteQualified quotes every dot-separated part of a name.
func (d *Dialect) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, ".")
}

// Placeholder renders the n-th (1-based) bind parameter.
func (d *Dialect) Placeholder(n int) string {
	switch d.Placeholders {
	case PlaceholderAtP:
		return fmt.Sprintf("@p%d", n)
	case PlaceholderQuestion:
		return "?"
	default:
		return fmt.Sprintf("$%d", n)
	}
}

// InsertSQL renders an INSERT of the given columns. When generated is not
// empty the statement returns that column's value, if the dialect can.
func (d *Dialect) InsertSQL(table string, columns []string, generated string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		params[i] = d.Placeholder(i + 1)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	if len(columns) == 0 {
		if generated != "" && d.Returning == ReturningOutput {
			fmt.Fprintf(&b, " OUTPUT INSERTED.%s", d.Quote(generated))
		}
		b.WriteString(" DEFAULT VALUES")
		if generated != "" && d.Returning == ReturningClause {
			fmt.Fprintf(&b, " RETURNING %s", d.Quote(generated))
		}
		return b.String()
	}
	fmt.Fprintf(&b, " (%s)", strings.Join(quoted, ", "))
	if generated != "" && d.Returning == ReturningOutput {
		fmt.Fprintf(&b, " OUTPUT INSERTED.%s", d.Quote(generated))
	}
	fmt.Fprintf(&b, " VALUES (%s)", strings.Join(params, ", "))
	if generated != "" && d.Returning == ReturningClause {
		fmt.Fprintf(&b, " RETURNING %s", d.Quote(generated))
	}
	return b.String()
}

// TypeName renders the column type used in DDL for a data type and size.
func (d *Dialect) TypeName(t DataType, size int) string {
	mssql := d.Placeholders == PlaceholderAtP
	switch t {
	case TypeChar:
		if size <= 0 {
			size = 1
		}
		return fmt.Sprintf("CHAR(%d)", size)
	case TypeVarChar:
		if size > 0 {
			if mssql {
				return fmt.Sprintf("NVARCHAR(%d)", size)
			}
			return fmt.Sprintf("VARCHAR(%d)", size)
		}
		if mssql {
			return "NVARCHAR(MAX)"
		}
		return "TEXT"
	case TypeText, TypeUnknown:
		if mssql {
			return "NVARCHAR(MAX)"
		}
		return "TEXT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeNumeric:
		return "NUMERIC"
	case TypeReal:
		return "REAL"
	case TypeDouble:
		if mssql {
			return "FLOAT"
		}
		return "DOUBLE PRECISION"
	case TypeBoolean:
		if mssql {
			return "BIT"
		}
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeTime:
		return "TIME"
	case TypeTimestamp:
		if mssql {
			return "DATETIME2"
		}
		return "TIMESTAMP"
	case TypeBinary:
		if mssql {
			return "VARBINARY(MAX)"
		}
		return "BYTEA"
	case TypeUUID:
		if mssql {
			return "UNIQUEIDENTIFIER"
		}
		return "UUID"
	case TypeJSON:
		if mssql {
			return "NVARCHAR(MAX)"
		}
		return "JSONB"
	}
	return "TEXT"
}

// IdentityClause renders the column suffix that makes the database generate
// values starting at seed.
func (d *Dialect) IdentityClause(seed int64) string {
	if seed <= 0 {
		seed = 1
	}
	switch d.Returning {
	case ReturningOutput:
		return fmt.Sprintf("IDENTITY(%d,1)", seed)
	case ReturningClause:
		return fmt.Sprintf("GENERATED BY DEFAULT AS IDENTITY (START WITH %d)", seed)
	}
	return ""
}
