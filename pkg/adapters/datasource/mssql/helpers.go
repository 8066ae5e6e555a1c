package mssql

import (
	"strconv"
	"strings"
)

// parseSchemaTable splits [schema].[table] or schema.table. The schema
// defaults to "dbo".
func parseSchemaTable(tableName string) (string, string) {
	cleaned := strings.NewReplacer("[", "", "]", "").Replace(tableName)
	if schema, table, ok := strings.Cut(cleaned, "."); ok {
		return schema, table
	}
	return "dbo", cleaned
}

// nativeTypeName renders a column type the way SQL Server declares it, with
// its length for the sized string and binary types. A length of -1 is
// (max). The result is kept as the catalog type name of the column; the
// portable code is derived from it with dataset.ParseDataType.
func nativeTypeName(dataType string, maxLength int) string {
	t := strings.ToLower(dataType)
	switch t {
	case "char", "nchar", "varchar", "nvarchar", "binary", "varbinary":
		switch {
		case maxLength < 0:
			return t + "(max)"
		case maxLength > 0:
			return t + "(" + strconv.Itoa(maxLength) + ")"
		}
	}
	return t
}
