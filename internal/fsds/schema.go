package fsds

import (
	_ "embed"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind is the semantic type of a normalized column.
type Kind string

// Column kinds. KindRaw marks drift columns the schema does not know.
const (
	KindString  Kind = "string"
	KindInt     Kind = "int"
	KindDecimal Kind = "decimal"
	KindDate    Kind = "date"
	KindRaw     Kind = "raw"
)

// SourceFileColumn is appended to every normalized row.
const SourceFileColumn = "source_file"

//go:embed schema.yaml
var schemaYAML []byte

// FileSchema is the column table for one member.
type FileSchema struct {
	Required []string        `yaml:"required"`
	Columns  map[string]Kind `yaml:"columns"`
}

// Schema maps each member to its column table.
type Schema map[FileType]FileSchema

// ParseSchema decodes a YAML schema document.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "fsds: parse schema")
	}
	for ft, fs := range s {
		if _, err := ParseFileType(string(ft)); err != nil {
			return nil, err
		}
		for col, k := range fs.Columns {
			switch k {
			case KindString, KindInt, KindDecimal, KindDate:
			default:
				return nil, eris.Errorf("fsds: schema %s.%s: unknown kind %q", ft, col, k)
			}
		}
		for _, col := range fs.Required {
			if _, ok := fs.Columns[col]; !ok {
				return nil, eris.Errorf("fsds: schema %s: required column %q has no kind", ft, col)
			}
		}
	}
	return s, nil
}

var defaultSchema = sync.OnceValues(func() (Schema, error) {
	return ParseSchema(schemaYAML)
})

// DefaultSchema returns the embedded schema.
func DefaultSchema() Schema {
	s, err := defaultSchema()
	if err != nil {
		panic(err) // embedded file is validated by tests
	}
	return s
}
