package types

import "strings"

// DefaultGroup is the entity group assigned to snapshots that do not
// declare any group membership.
const DefaultGroup = "Default"

// EntitySnapshot is the authoritative description of one business entity
// as pushed by the system of record. Syncing a snapshot replaces every
// indexed alias record for its canonical name.
type EntitySnapshot struct {
	// CanonicalName is the entity's canonical display name. Required.
	CanonicalName string `json:"canonical_name"`

	// Aliases holds alternative names as a comma-separated list.
	// The lower-cased canonical name is always indexed in addition to
	// whatever is listed here.
	Aliases string `json:"aliases,omitempty"`

	// Groups lists the entity groups this entity belongs to
	// (e.g. "Sales", "Inventory"). Empty means DefaultGroup.
	Groups []string `json:"entity_groups,omitempty"`

	// RecordType is the record type backing this entity
	// (e.g. "Customer", "Item").
	RecordType string `json:"record_type,omitempty"`

	// RelatedRecordTypes lists record types commonly joined with this
	// entity's record type.
	RelatedRecordTypes []string `json:"related_record_types,omitempty"`
}

// AliasSet returns the de-duplicated set of alias texts to index for the
// snapshot: the lower-cased canonical name plus every non-empty
// comma-separated entry from Aliases, in first-seen order.
func (s *EntitySnapshot) AliasSet() []string {
	seen := make(map[string]struct{})
	var aliases []string

	add := func(a string) {
		a = strings.TrimSpace(a)
		if a == "" {
			return
		}
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		aliases = append(aliases, a)
	}

	add(strings.ToLower(s.CanonicalName))
	for _, a := range strings.Split(s.Aliases, ",") {
		add(a)
	}
	return aliases
}

// GroupNames returns the snapshot's non-empty group names, falling back to
// DefaultGroup when none are set.
func (s *EntitySnapshot) GroupNames() []string {
	var groups []string
	for _, g := range s.Groups {
		g = strings.TrimSpace(g)
		if g != "" {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return []string{DefaultGroup}
	}
	return groups
}
