package types

import "fmt"

// FieldKind is the storage kind of an own field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindBytes
	KindTime
	KindRef
	KindRefList
)

// FieldSpec declares one own field of an item type.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	RefType   ItemType // for KindRef and KindRefList
	Required  bool
	Default   any
	Immutable bool // may be set on add but not changed by update
}

// IsRef reports whether the field is a structural reference.
func (f FieldSpec) IsRef() bool { return f.Kind == KindRef || f.Kind == KindRefList }

// ExternalField is a derived, read-only field reached through a reference:
// the value of Field on the item referenced by Via. Field may itself be an
// external field of the referent.
type ExternalField struct {
	Name  string
	Via   string
	Field string
}

// Resolver fills a reference field from client inputs by looking up the
// referent by unique key. Inputs maps the referent's key field names to the
// input field names carrying their values. For list references the single
// input carries a list and each element is looked up on its own.
type Resolver struct {
	Target string
	Inputs map[string]string
	List   bool
}

// Schema declares the fields, unique keys and references of an item type.
type Schema struct {
	Type       ItemType
	Fields     []FieldSpec
	UniqueKeys [][]string
	External   []ExternalField
	Resolvers  []Resolver
	ReadOnly   bool // items are written by the mapping only
}

// Field returns the spec of the own field name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ExternalField returns the external field name.
func (s *Schema) ExternalField(name string) (ExternalField, bool) {
	for _, e := range s.External {
		if e.Name == name {
			return e, true
		}
	}
	return ExternalField{}, false
}

// References returns the structural reference fields.
func (s *Schema) References() []FieldSpec {
	var refs []FieldSpec
	for _, f := range s.Fields {
		if f.IsRef() {
			refs = append(refs, f)
		}
	}
	return refs
}

// Columns returns the own field names in declaration order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Known reports whether name is an own or external field.
func (s *Schema) Known(name string) bool {
	if _, ok := s.Field(name); ok {
		return true
	}
	_, ok := s.ExternalField(name)
	return ok
}

// DependsOn returns the distinct item types referenced by s, excluding s.Type.
func (s *Schema) DependsOn() []ItemType {
	seen := map[ItemType]bool{}
	var out []ItemType
	for _, f := range s.References() {
		if f.RefType == s.Type || seen[f.RefType] {
			continue
		}
		seen[f.RefType] = true
		out = append(out, f.RefType)
	}
	return out
}

func resolver(target string, inputs map[string]string) Resolver {
	return Resolver{Target: target, Inputs: inputs}
}

var (
	entityByName = map[string]string{"entity_class_name": "entity_class_name", "name": "entity_name"}
	classByName  = map[string]string{"name": "entity_class_name"}
	altByName    = map[string]string{"name": "alternative_name"}
	metaByName   = map[string]string{"name": "metadata_name", "value": "metadata_value"}
)

var registry = map[ItemType]*Schema{
	CommitType: {
		Type: CommitType,
		Fields: []FieldSpec{
			{Name: "comment", Kind: KindString},
			{Name: "date", Kind: KindTime, Required: true},
			{Name: "user", Kind: KindString},
		},
		UniqueKeys: [][]string{{"date"}},
		ReadOnly:   true,
	},
	AlternativeType: {
		Type: AlternativeType,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString},
		},
		UniqueKeys: [][]string{{"name"}},
	},
	ScenarioType: {
		Type: ScenarioType,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString},
			{Name: "active", Kind: KindBool, Default: false},
		},
		UniqueKeys: [][]string{{"name"}},
	},
	ScenarioAlternativeType: {
		Type: ScenarioAlternativeType,
		Fields: []FieldSpec{
			{Name: "scenario_id", Kind: KindRef, RefType: ScenarioType, Required: true},
			{Name: "alternative_id", Kind: KindRef, RefType: AlternativeType, Required: true},
			{Name: "rank", Kind: KindInt, Required: true},
		},
		UniqueKeys: [][]string{{"scenario_id", "alternative_id"}, {"scenario_id", "rank"}},
		External: []ExternalField{
			{Name: "scenario_name", Via: "scenario_id", Field: "name"},
			{Name: "alternative_name", Via: "alternative_id", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("scenario_id", map[string]string{"name": "scenario_name"}),
			resolver("alternative_id", altByName),
		},
	},
	EntityClassType: {
		Type: EntityClassType,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "dimension_id_list", Kind: KindRefList, RefType: EntityClassType, Immutable: true},
			{Name: "description", Kind: KindString},
			{Name: "display_order", Kind: KindInt, Default: int64(99)},
			{Name: "hidden", Kind: KindBool, Default: false},
		},
		UniqueKeys: [][]string{{"name"}},
		External: []ExternalField{
			{Name: "dimension_name_list", Via: "dimension_id_list", Field: "name"},
		},
		Resolvers: []Resolver{
			{Target: "dimension_id_list", Inputs: map[string]string{"name": "dimension_name_list"}, List: true},
		},
	},
	EntityType: {
		Type: EntityType,
		Fields: []FieldSpec{
			{Name: "class_id", Kind: KindRef, RefType: EntityClassType, Required: true},
			{Name: "name", Kind: KindString, Required: true},
			{Name: "element_id_list", Kind: KindRefList, RefType: EntityType, Immutable: true},
			{Name: "description", Kind: KindString},
		},
		UniqueKeys: [][]string{{"class_id", "name"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "class_id", Field: "name"},
			{Name: "dimension_name_list", Via: "class_id", Field: "dimension_name_list"},
			{Name: "element_name_list", Via: "element_id_list", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("class_id", classByName),
		},
	},
	EntityAlternativeType: {
		Type: EntityAlternativeType,
		Fields: []FieldSpec{
			{Name: "entity_id", Kind: KindRef, RefType: EntityType, Required: true},
			{Name: "alternative_id", Kind: KindRef, RefType: AlternativeType, Required: true},
			{Name: "active", Kind: KindBool, Default: true},
		},
		UniqueKeys: [][]string{{"entity_id", "alternative_id"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "entity_id", Field: "entity_class_name"},
			{Name: "entity_name", Via: "entity_id", Field: "name"},
			{Name: "alternative_name", Via: "alternative_id", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("entity_id", entityByName),
			resolver("alternative_id", altByName),
		},
	},
	ParameterDefinitionType: {
		Type: ParameterDefinitionType,
		Fields: []FieldSpec{
			{Name: "entity_class_id", Kind: KindRef, RefType: EntityClassType, Required: true},
			{Name: "name", Kind: KindString, Required: true},
			{Name: "default_value", Kind: KindBytes},
			{Name: "default_type", Kind: KindString},
			{Name: "description", Kind: KindString},
		},
		UniqueKeys: [][]string{{"entity_class_id", "name"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "entity_class_id", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("entity_class_id", classByName),
		},
	},
	ParameterValueType: {
		Type: ParameterValueType,
		Fields: []FieldSpec{
			{Name: "entity_class_id", Kind: KindRef, RefType: EntityClassType, Required: true},
			{Name: "parameter_definition_id", Kind: KindRef, RefType: ParameterDefinitionType, Required: true},
			{Name: "entity_id", Kind: KindRef, RefType: EntityType, Required: true},
			{Name: "alternative_id", Kind: KindRef, RefType: AlternativeType, Required: true},
			{Name: "value", Kind: KindBytes, Required: true},
			{Name: "type", Kind: KindString},
		},
		UniqueKeys: [][]string{{"parameter_definition_id", "entity_id", "alternative_id"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "entity_class_id", Field: "name"},
			{Name: "parameter_definition_name", Via: "parameter_definition_id", Field: "name"},
			{Name: "entity_name", Via: "entity_id", Field: "name"},
			{Name: "element_name_list", Via: "entity_id", Field: "element_name_list"},
			{Name: "alternative_name", Via: "alternative_id", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("entity_class_id", classByName),
			resolver("parameter_definition_id", map[string]string{"entity_class_name": "entity_class_name", "name": "parameter_definition_name"}),
			resolver("entity_id", entityByName),
			resolver("alternative_id", altByName),
		},
	},
	MetadataType: {
		Type: MetadataType,
		Fields: []FieldSpec{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "value", Kind: KindString, Required: true},
		},
		UniqueKeys: [][]string{{"name", "value"}},
	},
	EntityMetadataType: {
		Type: EntityMetadataType,
		Fields: []FieldSpec{
			{Name: "entity_id", Kind: KindRef, RefType: EntityType, Required: true},
			{Name: "metadata_id", Kind: KindRef, RefType: MetadataType, Required: true},
		},
		UniqueKeys: [][]string{{"entity_id", "metadata_id"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "entity_id", Field: "entity_class_name"},
			{Name: "entity_name", Via: "entity_id", Field: "name"},
			{Name: "metadata_name", Via: "metadata_id", Field: "name"},
			{Name: "metadata_value", Via: "metadata_id", Field: "value"},
		},
		Resolvers: []Resolver{
			resolver("entity_id", entityByName),
			resolver("metadata_id", metaByName),
		},
	},
	EntityGroupType: {
		Type: EntityGroupType,
		Fields: []FieldSpec{
			{Name: "entity_class_id", Kind: KindRef, RefType: EntityClassType, Required: true},
			{Name: "entity_id", Kind: KindRef, RefType: EntityType, Required: true},
			{Name: "member_id", Kind: KindRef, RefType: EntityType, Required: true},
		},
		UniqueKeys: [][]string{{"entity_id", "member_id"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "entity_class_id", Field: "name"},
			{Name: "group_name", Via: "entity_id", Field: "name"},
			{Name: "member_name", Via: "member_id", Field: "name"},
		},
		Resolvers: []Resolver{
			resolver("entity_class_id", classByName),
			resolver("entity_id", map[string]string{"entity_class_name": "entity_class_name", "name": "group_name"}),
			resolver("member_id", map[string]string{"entity_class_name": "entity_class_name", "name": "member_name"}),
		},
	},
	ParameterValueMetadataType: {
		Type: ParameterValueMetadataType,
		Fields: []FieldSpec{
			{Name: "parameter_value_id", Kind: KindRef, RefType: ParameterValueType, Required: true},
			{Name: "metadata_id", Kind: KindRef, RefType: MetadataType, Required: true},
		},
		UniqueKeys: [][]string{{"parameter_value_id", "metadata_id"}},
		External: []ExternalField{
			{Name: "entity_class_name", Via: "parameter_value_id", Field: "entity_class_name"},
			{Name: "parameter_definition_name", Via: "parameter_value_id", Field: "parameter_definition_name"},
			{Name: "entity_name", Via: "parameter_value_id", Field: "entity_name"},
			{Name: "alternative_name", Via: "parameter_value_id", Field: "alternative_name"},
			{Name: "metadata_name", Via: "metadata_id", Field: "name"},
			{Name: "metadata_value", Via: "metadata_id", Field: "value"},
		},
		Resolvers: []Resolver{
			resolver("parameter_value_id", map[string]string{
				"entity_class_name":         "entity_class_name",
				"parameter_definition_name": "parameter_definition_name",
				"entity_name":               "entity_name",
				"alternative_name":          "alternative_name",
			}),
			resolver("metadata_id", metaByName),
		},
	},
}

// SchemaOf returns the schema registered for t.
func SchemaOf(t ItemType) (*Schema, error) {
	s, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, t)
	}
	return s, nil
}

// MustSchema is SchemaOf for item types known at compile time.
func MustSchema(t ItemType) *Schema {
	s, err := SchemaOf(t)
	if err != nil {
		panic(err)
	}
	return s
}

// Schemas returns the registered schemas in StandardItemTypes order.
func Schemas() []*Schema {
	out := make([]*Schema, 0, len(StandardItemTypes))
	for _, t := range StandardItemTypes {
		out = append(out, registry[t])
	}
	return out
}
