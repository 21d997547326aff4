// Package schemafile loads a TableSchema from a JSON file, the small
// loading helper the CLI's create-table command uses instead of building
// schemas by hand.
package schemafile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
)

// columnFile mirrors one column entry in a schema JSON file:
// {"name": "title", "data_type": "string", "nullable": false}.
type columnFile struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

type schemaFile struct {
	Columns []columnFile `json:"columns"`
}

// Load reads and parses a schema file at path into a schema.TableSchema.
func Load(path string) (schema.TableSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.TableSchema{}, fmt.Errorf("schemafile: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw schema JSON, as Load does from disk.
func Parse(data []byte) (schema.TableSchema, error) {
	var sf schemaFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return schema.TableSchema{}, fmt.Errorf("schemafile: decode: %w", err)
	}

	columns := make([]schema.Column, 0, len(sf.Columns))
	for _, c := range sf.Columns {
		dt, err := parseDataType(c.DataType)
		if err != nil {
			return schema.TableSchema{}, fmt.Errorf("schemafile: column %q: %w", c.Name, err)
		}
		columns = append(columns, schema.Column{Name: c.Name, DataType: dt, Nullable: c.Nullable})
	}
	return schema.TableSchema{Columns: columns}, nil
}

func parseDataType(name string) (value.Type, error) {
	switch name {
	case "int":
		return value.TypeInt, nil
	case "float":
		return value.TypeFloat, nil
	case "bool":
		return value.TypeBool, nil
	case "string":
		return value.TypeString, nil
	case "bytes":
		return value.TypeBytes, nil
	case "null":
		return value.TypeNull, nil
	default:
		return 0, fmt.Errorf("unknown data_type %q", name)
	}
}
