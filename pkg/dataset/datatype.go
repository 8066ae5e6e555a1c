package dataset

import (
	"fmt"
	"strings"
)

// DataType is the SQL type code of a column or attribute.
type DataType int

const (
	TypeUnknown DataType = iota
	TypeChar
	TypeVarChar
	TypeText
	TypeSmallInt
	TypeInteger
	TypeBigInt
	TypeNumeric
	TypeReal
	TypeDouble
	TypeBoolean
	TypeDate
	TypeTime
	TypeTimestamp
	TypeBinary
	TypeUUID
	TypeJSON
)

var dataTypeNames = map[DataType]string{
	TypeUnknown:   "unknown",
	TypeChar:      "char",
	TypeVarChar:   "varchar",
	TypeText:      "text",
	TypeSmallInt:  "smallint",
	TypeInteger:   "integer",
	TypeBigInt:    "bigint",
	TypeNumeric:   "numeric",
	TypeReal:      "real",
	TypeDouble:    "double",
	TypeBoolean:   "boolean",
	TypeDate:      "date",
	TypeTime:      "time",
	TypeTimestamp: "timestamp",
	TypeBinary:    "binary",
	TypeUUID:      "uuid",
	TypeJSON:      "json",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseDataType maps a type name, either a canonical name or one reported by
// a database catalog, onto a DataType code.
func ParseDataType(name string) DataType {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	switch n {
	case "char", "character", "nchar", "bpchar":
		return TypeChar
	case "varchar", "character varying", "nvarchar", "string":
		return TypeVarChar
	case "text", "ntext", "clob", "xml":
		return TypeText
	case "smallint", "tinyint", "int2":
		return TypeSmallInt
	case "integer", "int", "int4", "serial":
		return TypeInteger
	case "bigint", "int8", "bigserial", "long":
		return TypeBigInt
	case "numeric", "decimal", "money", "smallmoney":
		return TypeNumeric
	case "real", "float4":
		return TypeReal
	case "double", "double precision", "float", "float8":
		return TypeDouble
	case "boolean", "bool", "bit":
		return TypeBoolean
	case "date":
		return TypeDate
	case "time", "time without time zone":
		return TypeTime
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz",
		"datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return TypeTimestamp
	case "binary", "varbinary", "bytea", "blob", "image":
		return TypeBinary
	case "uuid", "uniqueidentifier":
		return TypeUUID
	case "json", "jsonb":
		return TypeJSON
	}
	return TypeUnknown
}

// IsNumeric reports whether values of the type are numbers.
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeSmallInt, TypeInteger, TypeBigInt, TypeNumeric, TypeReal, TypeDouble:
		return true
	}
	return false
}
