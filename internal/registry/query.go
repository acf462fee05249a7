package registry

import (
	"slices"
	"strings"
)

// Filter selects tools for Find. Zero-valued fields do not constrain.
type Filter struct {
	// NamePattern is a case-insensitive substring match on the tool name.
	NamePattern string

	Category string

	// Tags matches tools carrying any of the given tags.
	Tags []string

	// Permissions matches tools requiring any of the given permissions.
	Permissions []string

	// Enabled constrains on the enabled flag when non-nil.
	Enabled *bool

	TrustLevel TrustLevel
	Provider   string
}

// SortField selects the key for SortTools.
type SortField string

const (
	SortByName         SortField = "name"
	SortByCategory     SortField = "category"
	SortByUsage        SortField = "usage"
	SortByLastUsed     SortField = "lastUsed"
	SortByRegisteredAt SortField = "registeredAt"
	SortByTrustLevel   SortField = "trustLevel"
)

// Find returns copies of every tool matching the filter, in name order.
// Tag and permission filters are any-match.
func (r *Registry) Find(f Filter) []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidatesLocked(f)

	out := make([]*Metadata, 0, len(candidates))

	for _, meta := range candidates {
		if matches(meta, f) {
			out = append(out, cloneMetadata(meta))
		}
	}

	slices.SortFunc(out, func(a, b *Metadata) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out
}

// candidatesLocked narrows the scan through a secondary index when the
// filter allows it. Caller holds mu.
func (r *Registry) candidatesLocked(f Filter) []*Metadata {
	fromIndex := func(names map[string]struct{}) []*Metadata {
		out := make([]*Metadata, 0, len(names))

		for name := range names {
			if meta, ok := r.tools[name]; ok {
				out = append(out, meta)
			}
		}

		return out
	}

	if f.Category != "" {
		return fromIndex(r.byCategory[f.Category])
	}

	if len(f.Tags) == 1 {
		return fromIndex(r.byTag[f.Tags[0]])
	}

	if len(f.Permissions) == 1 {
		return fromIndex(r.byPermission[f.Permissions[0]])
	}

	out := make([]*Metadata, 0, len(r.tools))
	for _, meta := range r.tools {
		out = append(out, meta)
	}

	return out
}

func matches(meta *Metadata, f Filter) bool {
	if f.NamePattern != "" &&
		!strings.Contains(strings.ToLower(meta.Name), strings.ToLower(f.NamePattern)) {
		return false
	}

	if f.Category != "" && meta.Category != f.Category {
		return false
	}

	if len(f.Tags) > 0 && !anyOverlap(meta.Tags, f.Tags) {
		return false
	}

	if len(f.Permissions) > 0 && !anyOverlap(meta.Security.RequiredPermissions, f.Permissions) {
		return false
	}

	if f.Enabled != nil && meta.Enabled != *f.Enabled {
		return false
	}

	if f.TrustLevel != "" && meta.Provider.TrustLevel != f.TrustLevel {
		return false
	}

	if f.Provider != "" && meta.Provider.Name != f.Provider {
		return false
	}

	return true
}

func anyOverlap(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}

	return false
}

// SortTools orders tools by the given field, in place. descending reverses
// the natural order.
func SortTools(tools []*Metadata, field SortField, descending bool) {
	cmp := func(a, b *Metadata) int {
		switch field {
		case SortByCategory:
			return strings.Compare(a.Category, b.Category)
		case SortByUsage:
			return int(a.Stats.UsageCount - b.Stats.UsageCount)
		case SortByLastUsed:
			return a.Stats.LastUsedAt.Compare(b.Stats.LastUsedAt)
		case SortByRegisteredAt:
			return a.RegisteredAt.Compare(b.RegisteredAt)
		case SortByTrustLevel:
			return a.Provider.TrustLevel.rank() - b.Provider.TrustLevel.rank()
		default:
			return strings.Compare(a.Name, b.Name)
		}
	}

	slices.SortStableFunc(tools, func(a, b *Metadata) int {
		c := cmp(a, b)
		if c == 0 {
			c = strings.Compare(a.Name, b.Name)
		}

		if descending {
			return -c
		}

		return c
	})
}
