// Package dedupe finds duplicate listings and merges each group into one.
package dedupe

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xenking/dumpster-directory/internal/domain/business"
)

// Group is a set of listings sharing a dedupe key, keeper first.
type Group struct {
	Key        string              `json:"key"`
	Keeper     business.Business   `json:"keeper"`
	Duplicates []business.Business `json:"duplicates"`
	// Merged is the keeper after absorbing the duplicates.
	Merged business.Business `json:"merged"`
}

// DuplicateIDs returns the IDs of the listings to remove.
func (g *Group) DuplicateIDs() []string {
	ids := make([]string, len(g.Duplicates))
	for i := range g.Duplicates {
		ids[i] = g.Duplicates[i].ID
	}
	return ids
}

// Store loads listings and applies merges.
type Store interface {
	List(ctx context.Context) ([]business.Business, error)
	// SubscribedIDs returns businesses holding a live subscription.
	SubscribedIDs(ctx context.Context) (map[string]bool, error)
	// Consolidate updates the keeper, moves every reference from the
	// duplicates onto it and deletes the duplicates, in one transaction.
	Consolidate(ctx context.Context, keeper *business.Business, duplicateIDs []string) error
}

// Find groups listings by business.DedupeKey and keeps groups with more
// than one member. Groups are ordered by key.
func Find(list []business.Business, subscribed map[string]bool) []Group {
	byKey := make(map[string][]business.Business)
	for _, b := range list {
		k := business.DedupeKey(&b)
		byKey[k] = append(byKey[k], b)
	}

	keys := make([]string, 0, len(byKey))
	for k, members := range byKey {
		if len(members) > 1 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		members := byKey[k]
		i := PickKeeper(members, subscribed)
		keeper := members[i]
		dupes := slices.Delete(slices.Clone(members), i, i+1)
		groups = append(groups, Group{
			Key:        k,
			Keeper:     keeper,
			Duplicates: dupes,
			Merged:     Merge(keeper, dupes),
		})
	}
	return groups
}

// PickKeeper returns the index of the listing to keep: claimed first, then
// subscribed or featured, then most reviews, highest rating, oldest.
func PickKeeper(members []business.Business, subscribed map[string]bool) int {
	best := 0
	for i := 1; i < len(members); i++ {
		if better(&members[i], &members[best], subscribed) {
			best = i
		}
	}
	return best
}

func better(a, b *business.Business, subscribed map[string]bool) bool {
	if a.Claimed != b.Claimed {
		return a.Claimed
	}
	ap, bp := subscribed[a.ID] || a.Featured, subscribed[b.ID] || b.Featured
	if ap != bp {
		return ap
	}
	if a.ReviewCount != b.ReviewCount {
		return a.ReviewCount > b.ReviewCount
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Merge returns keeper with empty fields filled from dupes, services and
// gallery unioned, the highest review count and summed lead credits.
func Merge(keeper business.Business, dupes []business.Business) business.Business {
	m := keeper
	m.Services = slices.Clone(keeper.Services)
	m.Gallery = slices.Clone(keeper.Gallery)

	for i := range dupes {
		d := &dupes[i]
		fill(&m.Phone, d.Phone)
		fill(&m.Email, d.Email)
		fill(&m.Website, d.Website)
		fill(&m.Address, d.Address)
		fill(&m.City, d.City)
		fill(&m.State, d.State)
		fill(&m.Zip, d.Zip)
		fill(&m.Category, d.Category)
		fill(&m.Hours, d.Hours)
		fill(&m.Description, d.Description)
		if m.Latitude == nil || m.Longitude == nil {
			m.Latitude, m.Longitude = d.Latitude, d.Longitude
		}
		if m.Rating == 0 {
			m.Rating = d.Rating
		}
		if d.ReviewCount > m.ReviewCount {
			m.ReviewCount = d.ReviewCount
		}
		if d.Featured && !m.Featured {
			m.Featured, m.FeaturedUntil = true, d.FeaturedUntil
		}
		if !m.Claimed && d.Claimed {
			m.Claimed, m.OwnerID = true, d.OwnerID
		}
		m.Services = union(m.Services, d.Services)
		m.Gallery = union(m.Gallery, d.Gallery)
		m.LeadCredits += d.LeadCredits
	}
	return m
}

func fill(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

// union appends values of b missing from a, comparing case-insensitively.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range b {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		a = append(a, v)
	}
	return a
}

// Report summarizes a dedupe run.
type Report struct {
	Groups  []Group `json:"groups"`
	Removed int     `json:"removed"`
	Applied bool    `json:"applied"`
}

// Run finds duplicates and, when execute is set, consolidates each group.
// A failing group stops the run; groups already consolidated stay applied.
func Run(ctx context.Context, store Store, execute bool, lg *zap.Logger) (*Report, error) {
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	subscribed, err := store.SubscribedIDs(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Report{Groups: Find(list, subscribed), Applied: execute}
	for i := range rep.Groups {
		g := &rep.Groups[i]
		lg.Info("Duplicate group",
			zap.String("key", g.Key),
			zap.String("keeper", g.Keeper.ID),
			zap.Strings("duplicates", g.DuplicateIDs()),
		)
		if execute {
			if err := store.Consolidate(ctx, &g.Merged, g.DuplicateIDs()); err != nil {
				return rep, err
			}
		}
		rep.Removed += len(g.Duplicates)
	}
	return rep, nil
}
