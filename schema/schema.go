// Package schema loads and validates the AppSchema the Dependency Engine
// is installed with via set_schema.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Cardinality enumerates the relation kinds a Relation may declare.
type Cardinality string

const (
	OneToMany  Cardinality = "one-to-many"
	ManyToOne  Cardinality = "many-to-one"
	ManyToMany Cardinality = "many-to-many"
)

// IDKind distinguishes a single-field string id from a composite id.
type IDKind string

const (
	IDKindString    IDKind = "string"
	IDKindComposite IDKind = "composite"
)

// IDDescriptor describes how a Model is identified.
type IDDescriptor struct {
	Kind   IDKind   `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

// Validate implements validation.Validatable.
func (d IDDescriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Kind, validation.Required, validation.In(IDKindString, IDKindComposite)),
		validation.Field(&d.Fields,
			validation.When(d.Kind == IDKindComposite, validation.Required.Error("composite ids require non-empty fields")),
		),
	)
}

// Relation describes a reference from one Model to another.
type Relation struct {
	Name        string      `json:"name"`
	Model       string      `json:"model"`
	Cardinality Cardinality `json:"cardinality"`
	ForeignKey  string      `json:"foreignKey,omitempty"`
}

// Validate implements validation.Validatable. foreignKey is required for
// one-to-many/many-to-one relations; many-to-many relations commonly route
// through an unmodeled join table, so foreignKey stays optional there.
func (r Relation) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Model, validation.Required),
		validation.Field(&r.Cardinality, validation.Required, validation.In(OneToMany, ManyToOne, ManyToMany)),
		validation.Field(&r.ForeignKey,
			validation.When(r.Cardinality == OneToMany || r.Cardinality == ManyToOne, validation.Required)),
	)
}

// Model describes one entity the engine tracks dependencies for.
type Model struct {
	Name      string     `json:"name"`
	ID        IDDescriptor `json:"id"`
	Relations []Relation `json:"relations,omitempty"`
}

// Validate implements validation.Validatable.
func (m Model) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required),
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Relations),
	)
}

// AppSchema is the versioned description of models, ids, and relations
// handed to the Dependency Engine via set_schema.
type AppSchema struct {
	Version float64 `json:"version"`
	Models  []Model `json:"models"`
}

// Validate implements validation.Validatable: models non-empty, and each
// model well-formed. Version is not checked here: a zero version is legal,
// and a missing "version" key is rejected by Load, since JSON decoding
// into a non-pointer float64 cannot tell a missing key from 0.
func (s AppSchema) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Models, validation.Required, validation.Length(1, 0)),
	)
}

// Load parses and validates an AppSchema from inline JSON source.
func Load(data []byte) (AppSchema, error) {
	var s AppSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return AppSchema{}, fmt.Errorf("schema: decode: %w", err)
	}
	var probe struct {
		Version *float64 `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Version == nil {
		return AppSchema{}, fmt.Errorf("schema: validate: version: cannot be blank")
	}
	if err := s.Validate(); err != nil {
		return AppSchema{}, fmt.Errorf("schema: validate: %w", err)
	}
	return s, nil
}

// LoadFile reads path and delegates to Load.
func LoadFile(path string) (AppSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppSchema{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return Load(data)
}
