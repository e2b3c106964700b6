package records

import "maps"

// MergeStates overlays the non-empty fields of incoming onto existing and
// returns the result as a new, unsaved state. Extra data keys are merged the
// same way. The merged state belongs to no import file; identity and raw data
// come from neither input.
func MergeStates(existing, incoming *PropertyState) PropertyState {
	m := PropertyState{
		OrganizationID:       existing.OrganizationID,
		CycleID:              existing.CycleID,
		DataState:            DataStateMatched,
		MergeState:           MergeStateMerged,
		RowNumber:            incoming.RowNumber,
		AddressLine1:         pick(incoming.AddressLine1, existing.AddressLine1),
		AddressLine2:         pick(incoming.AddressLine2, existing.AddressLine2),
		City:                 pick(incoming.City, existing.City),
		State:                pick(incoming.State, existing.State),
		PostalCode:           pick(incoming.PostalCode, existing.PostalCode),
		NormalizedAddress:    pick(incoming.NormalizedAddress, existing.NormalizedAddress),
		NormalizedPostalCode: pick(incoming.NormalizedPostalCode, existing.NormalizedPostalCode),
		PropertyName:         pick(incoming.PropertyName, existing.PropertyName),
		CustomID1:            pick(incoming.CustomID1, existing.CustomID1),
		EnergyScore:          pickPtr(incoming.EnergyScore, existing.EnergyScore),
		GrossFloorArea:       pickPtr(incoming.GrossFloorArea, existing.GrossFloorArea),
		YearBuilt:            pickPtr(incoming.YearBuilt, existing.YearBuilt),
	}
	if len(existing.ExtraData) > 0 || len(incoming.ExtraData) > 0 {
		m.ExtraData = make(map[string]any, len(existing.ExtraData)+len(incoming.ExtraData))
		maps.Copy(m.ExtraData, existing.ExtraData)
		for k, v := range incoming.ExtraData {
			if v != nil && v != "" {
				m.ExtraData[k] = v
			}
		}
	}
	return m
}

func pick(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func pickPtr[T any](incoming, existing *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}
