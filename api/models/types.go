package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Dialect names as reported by gorm.DB.Name()
const (
	dialectPostgres  = "postgres"
	dialectMySQL     = "mysql"
	dialectSQLServer = "sqlserver"
	dialectSQLite    = "sqlite"
)

// JSONRaw stores an opaque JSON document, such as a canvas blob, without
// decoding it.
type JSONRaw json.RawMessage

// GormDBDataType picks a JSON-capable column type per dialect
func (JSONRaw) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Name() {
	case dialectPostgres:
		return "JSONB"
	case dialectMySQL:
		return "JSON"
	case dialectSQLServer:
		return "NVARCHAR(MAX)"
	default:
		return "TEXT"
	}
}

// Value implements driver.Valuer. Strings keep the column portable across
// drivers that reject []byte for text types.
func (j JSONRaw) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *JSONRaw) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSONRaw(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONRaw", value)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (j JSONRaw) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONRaw) UnmarshalJSON(data []byte) error {
	if j == nil {
		return fmt.Errorf("JSONRaw: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}
