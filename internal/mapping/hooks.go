package mapping

import (
	"fmt"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// hooks adds per-type behavior to the generic add and update paths.
//   - defaults fills client inputs before references are resolved.
//   - resolve turns inputs into references where a plain key lookup is not
//     enough.
//   - complete derives fields and checks cross-reference rules on the
//     candidate record.
type hooks struct {
	defaults func(in types.Fields)
	resolve  func(m *Mapping, in types.Fields) error
	complete func(m *Mapping, rec types.Record) error
}

func hooksFor(t types.ItemType) hooks {
	switch t {
	case types.EntityClassType:
		return hooks{complete: completeEntityClass}
	case types.EntityType:
		return hooks{resolve: resolveElements, complete: completeEntity}
	case types.ParameterValueType:
		return hooks{defaults: defaultAlternative, complete: completeParameterValue}
	case types.EntityGroupType:
		return hooks{complete: completeEntityGroup}
	}
	return hooks{}
}

// names returns the name field of each referenced item.
func (m *Mapping) names(ids []types.ID) ([]string, bool) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		it := m.itemByID(id)
		if it == nil {
			return nil, false
		}
		name, _ := it.rec.Get("name")
		s, _ := name.(string)
		out = append(out, s)
	}
	return out, true
}

func completeEntityClass(m *Mapping, rec types.Record) error {
	ec := rec.(*types.EntityClass)
	if ec.Name != "" || len(ec.DimensionIDs) == 0 {
		return nil
	}
	names, ok := m.names(ec.DimensionIDs)
	if !ok {
		return nil
	}
	ec.Name = types.NameFromElements(names)
	return nil
}

// resolveElements looks up element names against the dimension classes of
// the entity's class, one dimension per element.
func resolveElements(m *Mapping, in types.Fields) error {
	raw, ok := in["element_name_list"]
	if !ok {
		return nil
	}
	if _, has := in["element_id_list"]; has {
		return nil
	}
	classRef, ok := in["class_id"]
	if !ok {
		return &types.IntegrityError{Type: types.EntityType, Reason: "element names need the entity class"}
	}
	class, err := m.refItem(types.EntityClassType, classRef)
	if err != nil {
		return err
	}
	names, ok := asList(raw)
	if !ok {
		return fmt.Errorf("%w: element_name_list must be a list", types.ErrTypeMismatch)
	}
	dims := class.rec.(*types.EntityClass).DimensionIDs
	if len(names) != len(dims) {
		return &types.IntegrityError{
			Type:   types.EntityType,
			Reason: fmt.Sprintf("class %v has %d dimensions, got %d elements", class.displayName(), len(dims), len(names)),
		}
	}
	entities := m.tables[types.EntityType]
	ids := make([]types.ID, len(names))
	for i, name := range names {
		elem, err := m.lookupKey(entities, types.Fields{"class_id": dims[i], "name": name}, false)
		if err != nil {
			return err
		}
		ids[i] = elem.id
	}
	in["element_id_list"] = ids
	return nil
}

func completeEntity(m *Mapping, rec types.Record) error {
	e := rec.(*types.Entity)
	class := m.itemByID(e.ClassID)
	if class == nil {
		return nil
	}
	dims := class.rec.(*types.EntityClass).DimensionIDs
	if len(dims) != len(e.ElementIDs) {
		return &types.IntegrityError{
			Type:   types.EntityType,
			Reason: fmt.Sprintf("class %v has %d dimensions, got %d elements", class.displayName(), len(dims), len(e.ElementIDs)),
		}
	}
	for i, elemID := range e.ElementIDs {
		elem := m.itemByID(elemID)
		if elem == nil {
			continue
		}
		if elem.rec.(*types.Entity).ClassID != dims[i] {
			return &types.IntegrityError{
				Type:   types.EntityType,
				Reason: fmt.Sprintf("element %v is not in dimension %d of class %v", elem.displayName(), i, class.displayName()),
			}
		}
	}
	if e.Name == "" && len(e.ElementIDs) > 0 {
		if names, ok := m.names(e.ElementIDs); ok {
			e.Name = types.NameFromElements(names)
		}
	}
	return nil
}

func defaultAlternative(in types.Fields) {
	_, hasID := in["alternative_id"]
	_, hasName := in["alternative_name"]
	if !hasID && !hasName {
		in["alternative_name"] = types.BaseAlternativeName
	}
}

// completeParameterValue takes the class from the definition when it is not
// given, and requires definition and entity to share it.
func completeParameterValue(m *Mapping, rec types.Record) error {
	pv := rec.(*types.ParameterValue)
	def := m.itemByID(pv.DefinitionID)
	if def != nil && pv.ClassID.IsZero() {
		pv.ClassID = def.rec.(*types.ParameterDefinition).ClassID
	}
	if def != nil && def.rec.(*types.ParameterDefinition).ClassID != pv.ClassID {
		return &types.IntegrityError{
			Type:   types.ParameterValueType,
			Reason: fmt.Sprintf("parameter definition %v belongs to another class", def.displayName()),
		}
	}
	if ent := m.itemByID(pv.EntityID); ent != nil && ent.rec.(*types.Entity).ClassID != pv.ClassID {
		return &types.IntegrityError{
			Type:   types.ParameterValueType,
			Reason: fmt.Sprintf("entity %v belongs to another class", ent.displayName()),
		}
	}
	return nil
}

// completeEntityGroup takes the class from the group entity when it is not
// given. Group and member must be distinct entities of that class.
func completeEntityGroup(m *Mapping, rec types.Record) error {
	g := rec.(*types.EntityGroup)
	group := m.itemByID(g.EntityID)
	if group != nil && g.ClassID.IsZero() {
		g.ClassID = group.rec.(*types.Entity).ClassID
	}
	if !g.EntityID.IsZero() && g.EntityID == g.MemberID {
		return &types.IntegrityError{Type: types.EntityGroupType, Reason: "an entity cannot be a member of itself"}
	}
	for _, it := range []*mappedItem{group, m.itemByID(g.MemberID)} {
		if it != nil && it.rec.(*types.Entity).ClassID != g.ClassID {
			return &types.IntegrityError{
				Type:   types.EntityGroupType,
				Reason: fmt.Sprintf("entity %v belongs to another class", it.displayName()),
			}
		}
	}
	return nil
}
