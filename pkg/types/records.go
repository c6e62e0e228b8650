package types

import (
	"bytes"
	"fmt"
	"time"
)

func unknown(t ItemType, field string) error {
	return fmt.Errorf("%w: %s.%s", ErrUnknownField, t, field)
}

// Commit records one successful commit. Commits are written by the mapping
// itself; clients cannot add, update or remove them.
type Commit struct {
	Comment string
	Date    time.Time
	User    string
}

func (r *Commit) ItemType() ItemType { return CommitType }

func (r *Commit) Get(field string) (any, bool) {
	switch field {
	case "comment":
		return r.Comment, true
	case "date":
		return r.Date, true
	case "user":
		return r.User, true
	}
	return nil, false
}

func (r *Commit) Set(field string, v any) (err error) {
	switch field {
	case "comment":
		r.Comment, err = asString(field, v)
	case "date":
		r.Date, err = asTime(field, v)
	case "user":
		r.User, err = asString(field, v)
	default:
		return unknown(CommitType, field)
	}
	return err
}

func (r *Commit) Clone() Record { c := *r; return &c }

// Alternative is a named set of parameter values.
type Alternative struct {
	Name        string
	Description string
}

func (r *Alternative) ItemType() ItemType { return AlternativeType }

func (r *Alternative) Get(field string) (any, bool) {
	switch field {
	case "name":
		return r.Name, true
	case "description":
		return r.Description, true
	}
	return nil, false
}

func (r *Alternative) Set(field string, v any) (err error) {
	switch field {
	case "name":
		r.Name, err = asString(field, v)
	case "description":
		r.Description, err = asString(field, v)
	default:
		return unknown(AlternativeType, field)
	}
	return err
}

func (r *Alternative) Clone() Record { c := *r; return &c }

// Scenario is an ordered stack of alternatives.
type Scenario struct {
	Name        string
	Description string
	Active      bool
}

func (r *Scenario) ItemType() ItemType { return ScenarioType }

func (r *Scenario) Get(field string) (any, bool) {
	switch field {
	case "name":
		return r.Name, true
	case "description":
		return r.Description, true
	case "active":
		return r.Active, true
	}
	return nil, false
}

func (r *Scenario) Set(field string, v any) (err error) {
	switch field {
	case "name":
		r.Name, err = asString(field, v)
	case "description":
		r.Description, err = asString(field, v)
	case "active":
		r.Active, err = asBool(field, v)
	default:
		return unknown(ScenarioType, field)
	}
	return err
}

func (r *Scenario) Clone() Record { c := *r; return &c }

// ScenarioAlternative places an alternative at a rank within a scenario.
type ScenarioAlternative struct {
	ScenarioID    ID
	AlternativeID ID
	Rank          int64
}

func (r *ScenarioAlternative) ItemType() ItemType { return ScenarioAlternativeType }

func (r *ScenarioAlternative) Get(field string) (any, bool) {
	switch field {
	case "scenario_id":
		return r.ScenarioID, true
	case "alternative_id":
		return r.AlternativeID, true
	case "rank":
		return r.Rank, true
	}
	return nil, false
}

func (r *ScenarioAlternative) Set(field string, v any) (err error) {
	switch field {
	case "scenario_id":
		r.ScenarioID, err = asID(field, v)
	case "alternative_id":
		r.AlternativeID, err = asID(field, v)
	case "rank":
		r.Rank, err = asInt(field, v)
	default:
		return unknown(ScenarioAlternativeType, field)
	}
	return err
}

func (r *ScenarioAlternative) Clone() Record { c := *r; return &c }

// EntityClass is a class of entities. A class with dimensions is a
// multi-dimensional (relationship) class whose entities are tuples of
// elements drawn from the dimension classes.
type EntityClass struct {
	Name         string
	DimensionIDs []ID
	Description  string
	DisplayOrder int64
	Hidden       bool
}

func (r *EntityClass) ItemType() ItemType { return EntityClassType }

func (r *EntityClass) Get(field string) (any, bool) {
	switch field {
	case "name":
		return r.Name, true
	case "dimension_id_list":
		return cloneIDs(r.DimensionIDs), true
	case "description":
		return r.Description, true
	case "display_order":
		return r.DisplayOrder, true
	case "hidden":
		return r.Hidden, true
	}
	return nil, false
}

func (r *EntityClass) Set(field string, v any) (err error) {
	switch field {
	case "name":
		r.Name, err = asString(field, v)
	case "dimension_id_list":
		r.DimensionIDs, err = asIDList(field, v)
	case "description":
		r.Description, err = asString(field, v)
	case "display_order":
		r.DisplayOrder, err = asInt(field, v)
	case "hidden":
		r.Hidden, err = asBool(field, v)
	default:
		return unknown(EntityClassType, field)
	}
	return err
}

func (r *EntityClass) Clone() Record {
	c := *r
	c.DimensionIDs = cloneIDs(r.DimensionIDs)
	return &c
}

// Entity is a member of an entity class.
type Entity struct {
	ClassID     ID
	Name        string
	ElementIDs  []ID
	Description string
}

func (r *Entity) ItemType() ItemType { return EntityType }

func (r *Entity) Get(field string) (any, bool) {
	switch field {
	case "class_id":
		return r.ClassID, true
	case "name":
		return r.Name, true
	case "element_id_list":
		return cloneIDs(r.ElementIDs), true
	case "description":
		return r.Description, true
	}
	return nil, false
}

func (r *Entity) Set(field string, v any) (err error) {
	switch field {
	case "class_id":
		r.ClassID, err = asID(field, v)
	case "name":
		r.Name, err = asString(field, v)
	case "element_id_list":
		r.ElementIDs, err = asIDList(field, v)
	case "description":
		r.Description, err = asString(field, v)
	default:
		return unknown(EntityType, field)
	}
	return err
}

func (r *Entity) Clone() Record {
	c := *r
	c.ElementIDs = cloneIDs(r.ElementIDs)
	return &c
}

// EntityAlternative toggles an entity's presence in an alternative.
type EntityAlternative struct {
	EntityID      ID
	AlternativeID ID
	Active        bool
}

func (r *EntityAlternative) ItemType() ItemType { return EntityAlternativeType }

func (r *EntityAlternative) Get(field string) (any, bool) {
	switch field {
	case "entity_id":
		return r.EntityID, true
	case "alternative_id":
		return r.AlternativeID, true
	case "active":
		return r.Active, true
	}
	return nil, false
}

func (r *EntityAlternative) Set(field string, v any) (err error) {
	switch field {
	case "entity_id":
		r.EntityID, err = asID(field, v)
	case "alternative_id":
		r.AlternativeID, err = asID(field, v)
	case "active":
		r.Active, err = asBool(field, v)
	default:
		return unknown(EntityAlternativeType, field)
	}
	return err
}

func (r *EntityAlternative) Clone() Record { c := *r; return &c }

// ParameterDefinition declares a parameter on an entity class. The default
// value is kept in its raw stored form.
type ParameterDefinition struct {
	ClassID      ID
	Name         string
	DefaultValue []byte
	DefaultType  string
	Description  string
}

func (r *ParameterDefinition) ItemType() ItemType { return ParameterDefinitionType }

func (r *ParameterDefinition) Get(field string) (any, bool) {
	switch field {
	case "entity_class_id":
		return r.ClassID, true
	case "name":
		return r.Name, true
	case "default_value":
		return bytes.Clone(r.DefaultValue), true
	case "default_type":
		return r.DefaultType, true
	case "description":
		return r.Description, true
	}
	return nil, false
}

func (r *ParameterDefinition) Set(field string, v any) (err error) {
	switch field {
	case "entity_class_id":
		r.ClassID, err = asID(field, v)
	case "name":
		r.Name, err = asString(field, v)
	case "default_value":
		r.DefaultValue, err = asBytes(field, v)
	case "default_type":
		r.DefaultType, err = asString(field, v)
	case "description":
		r.Description, err = asString(field, v)
	default:
		return unknown(ParameterDefinitionType, field)
	}
	return err
}

func (r *ParameterDefinition) Clone() Record {
	c := *r
	c.DefaultValue = bytes.Clone(r.DefaultValue)
	return &c
}

// ParameterValue holds the value of a parameter for one entity in one
// alternative. Value and Type are the raw stored representation; decoding
// them is left to the value codec.
type ParameterValue struct {
	ClassID       ID
	DefinitionID  ID
	EntityID      ID
	AlternativeID ID
	Value         []byte
	Type          string
}

func (r *ParameterValue) ItemType() ItemType { return ParameterValueType }

func (r *ParameterValue) Get(field string) (any, bool) {
	switch field {
	case "entity_class_id":
		return r.ClassID, true
	case "parameter_definition_id":
		return r.DefinitionID, true
	case "entity_id":
		return r.EntityID, true
	case "alternative_id":
		return r.AlternativeID, true
	case "value":
		return bytes.Clone(r.Value), true
	case "type":
		return r.Type, true
	}
	return nil, false
}

func (r *ParameterValue) Set(field string, v any) (err error) {
	switch field {
	case "entity_class_id":
		r.ClassID, err = asID(field, v)
	case "parameter_definition_id":
		r.DefinitionID, err = asID(field, v)
	case "entity_id":
		r.EntityID, err = asID(field, v)
	case "alternative_id":
		r.AlternativeID, err = asID(field, v)
	case "value":
		r.Value, err = asBytes(field, v)
	case "type":
		r.Type, err = asString(field, v)
	default:
		return unknown(ParameterValueType, field)
	}
	return err
}

func (r *ParameterValue) Clone() Record {
	c := *r
	c.Value = bytes.Clone(r.Value)
	return &c
}

// Metadata is a free-form name/value pair that can be attached to entities.
type Metadata struct {
	Name  string
	Value string
}

func (r *Metadata) ItemType() ItemType { return MetadataType }

func (r *Metadata) Get(field string) (any, bool) {
	switch field {
	case "name":
		return r.Name, true
	case "value":
		return r.Value, true
	}
	return nil, false
}

func (r *Metadata) Set(field string, v any) (err error) {
	switch field {
	case "name":
		r.Name, err = asString(field, v)
	case "value":
		r.Value, err = asString(field, v)
	default:
		return unknown(MetadataType, field)
	}
	return err
}

func (r *Metadata) Clone() Record { c := *r; return &c }

// EntityMetadata attaches a metadata pair to an entity.
type EntityMetadata struct {
	EntityID   ID
	MetadataID ID
}

func (r *EntityMetadata) ItemType() ItemType { return EntityMetadataType }

func (r *EntityMetadata) Get(field string) (any, bool) {
	switch field {
	case "entity_id":
		return r.EntityID, true
	case "metadata_id":
		return r.MetadataID, true
	}
	return nil, false
}

func (r *EntityMetadata) Set(field string, v any) (err error) {
	switch field {
	case "entity_id":
		r.EntityID, err = asID(field, v)
	case "metadata_id":
		r.MetadataID, err = asID(field, v)
	default:
		return unknown(EntityMetadataType, field)
	}
	return err
}

func (r *EntityMetadata) Clone() Record { c := *r; return &c }

// EntityGroup makes an entity a member of a group entity of the same class.
type EntityGroup struct {
	ClassID  ID
	EntityID ID
	MemberID ID
}

func (r *EntityGroup) ItemType() ItemType { return EntityGroupType }

func (r *EntityGroup) Get(field string) (any, bool) {
	switch field {
	case "entity_class_id":
		return r.ClassID, true
	case "entity_id":
		return r.EntityID, true
	case "member_id":
		return r.MemberID, true
	}
	return nil, false
}

func (r *EntityGroup) Set(field string, v any) (err error) {
	switch field {
	case "entity_class_id":
		r.ClassID, err = asID(field, v)
	case "entity_id":
		r.EntityID, err = asID(field, v)
	case "member_id":
		r.MemberID, err = asID(field, v)
	default:
		return unknown(EntityGroupType, field)
	}
	return err
}

func (r *EntityGroup) Clone() Record { c := *r; return &c }

// ParameterValueMetadata attaches a metadata pair to a parameter value.
type ParameterValueMetadata struct {
	ValueID    ID
	MetadataID ID
}

func (r *ParameterValueMetadata) ItemType() ItemType { return ParameterValueMetadataType }

func (r *ParameterValueMetadata) Get(field string) (any, bool) {
	switch field {
	case "parameter_value_id":
		return r.ValueID, true
	case "metadata_id":
		return r.MetadataID, true
	}
	return nil, false
}

func (r *ParameterValueMetadata) Set(field string, v any) (err error) {
	switch field {
	case "parameter_value_id":
		r.ValueID, err = asID(field, v)
	case "metadata_id":
		r.MetadataID, err = asID(field, v)
	default:
		return unknown(ParameterValueMetadataType, field)
	}
	return err
}

func (r *ParameterValueMetadata) Clone() Record { c := *r; return &c }

// Compile-time interface checks.
var (
	_ Record = (*Commit)(nil)
	_ Record = (*Alternative)(nil)
	_ Record = (*Scenario)(nil)
	_ Record = (*ScenarioAlternative)(nil)
	_ Record = (*EntityClass)(nil)
	_ Record = (*Entity)(nil)
	_ Record = (*EntityAlternative)(nil)
	_ Record = (*ParameterDefinition)(nil)
	_ Record = (*ParameterValue)(nil)
	_ Record = (*Metadata)(nil)
	_ Record = (*EntityMetadata)(nil)
	_ Record = (*EntityGroup)(nil)
	_ Record = (*ParameterValueMetadata)(nil)
)
