package tokenizer

import "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"

// Field identifies an indexed part of a package record.
type Field uint8

const (
	FieldName Field = iota
	FieldKeywords
	FieldDescription
	FieldReadme
	numFields
)

// Fields lists every indexed field in scoring order.
var Fields = [...]Field{FieldName, FieldKeywords, FieldDescription, FieldReadme}

func (f Field) String() string {
	switch f {
	case FieldName:
		return "name"
	case FieldKeywords:
		return "keywords"
	case FieldDescription:
		return "description"
	case FieldReadme:
		return "readme"
	default:
		return "unknown"
	}
}

// Schema holds the lexical weight of every field.
type Schema struct {
	weights [numFields]float64
}

// NewSchema builds a schema from config. Negative weights are clamped to 0.
func NewSchema(w config.FieldWeights) Schema {
	var s Schema
	s.weights[FieldName] = max(w.Name, 0)
	s.weights[FieldKeywords] = max(w.Keywords, 0)
	s.weights[FieldDescription] = max(w.Description, 0)
	s.weights[FieldReadme] = max(w.Readme, 0)
	return s
}

// DefaultSchema weights name 4.0, keywords 2.5, description 1.0, readme 0.3.
func DefaultSchema() Schema {
	return NewSchema(config.Default().Tokenizer.FieldWeights)
}

func (s Schema) Weight(f Field) float64 {
	if f >= numFields {
		return 0
	}
	return s.weights[f]
}
