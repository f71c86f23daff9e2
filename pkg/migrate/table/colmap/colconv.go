// package colmap
//
// maps columns between different database types
package colmap

import (
	"fmt"
	"strings"
)

// Type : column mapping type
type Type string

const (
	// AccessToMysql : access (jet/ace) -> mysql type casting
	AccessToMysql Type = "ACCESS_MYSQL"
)

var (
	accessToMysqlMap = map[string]string{
		"COUNTER":       "INT",
		"AUTOINCREMENT": "INT",
		"BYTE":          "TINYINT UNSIGNED",
		"SMALLINT":      "SMALLINT",
		"SHORT":         "SMALLINT",
		"INTEGER":       "INT",
		"LONG":          "INT",
		"BIGINT":        "BIGINT",
		"REAL":          "FLOAT",
		"SINGLE":        "FLOAT",
		"FLOAT":         "DOUBLE",
		"DOUBLE":        "DOUBLE",
		"CURRENCY":      "DECIMAL(19,4)",
		"MONEY":         "DECIMAL(19,4)",
		"DECIMAL":       "DECIMAL",
		"NUMERIC":       "DECIMAL",
		"DATETIME":      "DATETIME",
		"DATE":          "DATETIME",
		"TIME":          "TIME",
		"BIT":           "TINYINT(1)",
		"YESNO":         "TINYINT(1)",
		"BOOLEAN":       "TINYINT(1)",
		"CHAR":          "CHAR",
		"VARCHAR":       "VARCHAR",
		"TEXT":          "VARCHAR",
		"LONGCHAR":      "LONGTEXT",
		"MEMO":          "LONGTEXT",
		"LONGTEXT":      "LONGTEXT",
		"HYPERLINK":     "TEXT",
		"GUID":          "CHAR(38)",
		"BINARY":        "VARBINARY",
		"VARBINARY":     "VARBINARY",
		"LONGBINARY":    "LONGBLOB",
		"OLEOBJECT":     "LONGBLOB",
		"IMAGE":         "LONGBLOB",
	}
	// types that take a (n) length suffix on the mysql side
	sized = map[string]bool{
		"CHAR":      true,
		"VARCHAR":   true,
		"VARBINARY": true,
	}
)

// Convert : converts types to the target db if it cannot then it will error out
func Convert(t Type, colTypeSource string) (string, error) {
	colTypeSource = strings.ToUpper(strings.TrimSpace(strings.Split(colTypeSource, "(")[0]))
	switch t {
	case AccessToMysql:
		itm, ok := accessToMysqlMap[colTypeSource]
		if !ok {
			return "", fmt.Errorf("This col type %s does not have a mysql mapping", colTypeSource)
		}
		return itm, nil
	}
	return "", fmt.Errorf("Unsupported type %s", t)
}

// ConvertSized : like Convert but adds a length for types mysql needs one for.
// length <= 0 falls back to 255 (access' text limit).
func ConvertSized(t Type, colTypeSource string, length int64) (string, error) {
	itm, err := Convert(t, colTypeSource)
	if err != nil {
		return "", err
	}
	if !sized[itm] {
		return itm, nil
	}
	if length <= 0 || length > 65535 {
		length = 255
	}
	return fmt.Sprintf("%s(%d)", itm, length), nil
}

// MustConvert : if the conversion errors out it panics
func MustConvert(t Type, colTypeSource string) string {
	val, err := Convert(t, colTypeSource)
	if err != nil {
		panic(fmt.Errorf("%s : Could not cast %s", t, colTypeSource))
	}
	return val
}
