package descriptor

// GenerateOneMoreGeneral returns d together with every descriptor one
// generalization step away from it, most specific first.
//
// For a general descriptor a step removes a single property, giving n+1
// results for n properties. A literal descriptor yields exactly one result,
// its general-mode equivalent.
func (d Descriptor) GenerateOneMoreGeneral() []Descriptor {
	if d.IsLiteral() {
		return []Descriptor{d.AsGeneral()}
	}

	result := []Descriptor{d}
	for _, key := range d.Properties.Keys() {
		result = append(result, d.Without(key))
	}
	Sort(result)
	return result
}

// GenerateAllMoreGeneral returns every descriptor at least as general as d,
// most specific first. A general descriptor with n properties yields 2^n
// results; a literal one additionally yields itself.
func (d Descriptor) GenerateAllMoreGeneral() []Descriptor {
	var result []Descriptor
	if d.IsLiteral() {
		result = append(result, d)
	}

	props := d.Properties
	closure := []map[string]string{{}}
	for _, key := range props.Keys() {
		value, _ := props.Value(key)
		for _, base := range closure {
			with := copyProps(base)
			with[key] = value
			closure = append(closure, with)
		}
	}

	for _, p := range closure {
		result = append(result, NewGeneral(d.Type, d.Direction, p))
	}
	Sort(result)
	return result
}

// GenerateAllMoreGeneralOf returns the union of GenerateAllMoreGeneral over
// ds without duplicates, most specific first.
func GenerateAllMoreGeneralOf(ds []Descriptor) []Descriptor {
	seen := make(map[string]bool)
	var result []Descriptor
	for _, d := range ds {
		for _, g := range d.GenerateAllMoreGeneral() {
			key := g.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, g)
		}
	}
	Sort(result)
	return result
}
