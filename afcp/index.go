package afcp

// capabilityIndex is a reverse index from capability to the set of agent
// ids advertising it. It is a pure function of the current agent set and
// is rebuilt incrementally on every Registry mutation, never read without
// the Registry's lock held.
type capabilityIndex struct {
	byCapability map[string]map[string]struct{}
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{byCapability: make(map[string]map[string]struct{})}
}

// add registers id under every capability in caps.
func (idx *capabilityIndex) add(id string, caps []string) {
	for _, c := range caps {
		set, ok := idx.byCapability[c]
		if !ok {
			set = make(map[string]struct{})
			idx.byCapability[c] = set
		}
		set[id] = struct{}{}
	}
}

// remove unregisters id from every capability in caps, pruning empty sets.
func (idx *capabilityIndex) remove(id string, caps []string) {
	for _, c := range caps {
		set, ok := idx.byCapability[c]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(idx.byCapability, c)
		}
	}
}

// update replaces id's registered capabilities, touching only the
// symmetric difference of old and new.
func (idx *capabilityIndex) update(id string, oldCaps, newCaps []string) {
	oldSet := toSet(oldCaps)
	newSet := toSet(newCaps)

	var toRemove, toAdd []string
	for c := range oldSet {
		if _, ok := newSet[c]; !ok {
			toRemove = append(toRemove, c)
		}
	}
	for c := range newSet {
		if _, ok := oldSet[c]; !ok {
			toAdd = append(toAdd, c)
		}
	}

	idx.remove(id, toRemove)
	idx.add(id, toAdd)
}

// ids returns the set of agent ids advertising capability c.
func (idx *capabilityIndex) ids(c string) map[string]struct{} {
	return idx.byCapability[c]
}

// count returns the number of distinct capabilities currently indexed.
func (idx *capabilityIndex) count() int {
	return len(idx.byCapability)
}

func toSet(ss []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		set[s] = struct{}{}
	}
	return set
}
