package types

import "fmt"

// ItemType names one mapped table.
type ItemType string

// Item types, in the order they are declared to the schema registry.
const (
	CommitType                 ItemType = "commit"
	AlternativeType            ItemType = "alternative"
	ScenarioType               ItemType = "scenario"
	ScenarioAlternativeType    ItemType = "scenario_alternative"
	EntityClassType            ItemType = "entity_class"
	EntityType                 ItemType = "entity"
	EntityAlternativeType      ItemType = "entity_alternative"
	ParameterDefinitionType    ItemType = "parameter_definition"
	ParameterValueType         ItemType = "parameter_value"
	MetadataType               ItemType = "metadata"
	EntityMetadataType         ItemType = "entity_metadata"
	EntityGroupType            ItemType = "entity_group"
	ParameterValueMetadataType ItemType = "parameter_value_metadata"
)

// StandardItemTypes lists every item type in declaration order.
var StandardItemTypes = []ItemType{
	CommitType,
	AlternativeType,
	ScenarioType,
	ScenarioAlternativeType,
	EntityClassType,
	EntityType,
	EntityAlternativeType,
	ParameterDefinitionType,
	ParameterValueType,
	MetadataType,
	EntityMetadataType,
	EntityGroupType,
	ParameterValueMetadataType,
}

// ParseItemType returns the ItemType named s.
func ParseItemType(s string) (ItemType, error) {
	for _, t := range StandardItemTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownItemType, s)
}

// Status is the commit state of a mapped item.
type Status int

const (
	StatusUnchanged Status = iota
	StatusAdded
	StatusUpdated
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusAdded:
		return "added"
	case StatusUpdated:
		return "updated"
	case StatusRemoved:
		return "removed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// BaseAlternativeName is the alternative every store seeds with id 1.
const (
	BaseAlternativeName = "Base"
	BaseAlternativeID   = 1
)
