package column

import "fmt"

// AgentIDField is the name of the agent identifier column every agent
// schema carries. It holds the 16 raw bytes of a UUID.
const AgentIDField = "agent_id"

// AgentIDType is the type of the agent identifier column.
var AgentIDType = FixedBytes(16)

// Field is a named column.
type Field struct {
	Name string
	Type Type
}

// Schema is an ordered set of uniquely named fields. It is immutable.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema creates a schema from fields in column order.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrInvalidSchema, i)
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("%w: field %q has invalid type %s", ErrInvalidSchema, f.Name, f.Type)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// NewAgentSchema creates a schema and checks that it carries the agent id column.
func NewAgentSchema(fields ...Field) (*Schema, error) {
	s, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	i, ok := s.Index(AgentIDField)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q field", ErrInvalidSchema, AgentIDField)
	}
	if s.fields[i].Type != AgentIDType {
		return nil, fmt.Errorf("%w: %q must be %s, got %s", ErrInvalidSchema, AgentIDField, AgentIDType, s.fields[i].Type)
	}
	return s, nil
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of all fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Index returns the column index of the named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Has reports whether the schema contains the named field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Project returns a schema with the named fields in the given order.
func (s *Schema) Project(names ...string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, n := range names {
		i, ok := s.index[n]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidSchema, n)
		}
		fields = append(fields, s.fields[i])
	}
	return NewSchema(fields...)
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}
