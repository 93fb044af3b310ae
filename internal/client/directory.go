package client

import (
	"context"
	"sort"
	"sync"
)

// StaticDirectory implements DirectoryClient from a fixed role table, loaded
// from the seed file at startup. Deployments with an identity service swap
// in a client that resolves roles remotely.
type StaticDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string][]string // entity id -> role -> user ids
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{members: make(map[string]map[string][]string)}
}

// SetRoles replaces the role table for an entity.
func (d *StaticDirectory) SetRoles(entityID string, roles map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := make(map[string][]string, len(roles))
	for role, users := range roles {
		table[role] = append([]string(nil), users...)
	}
	d.members[entityID] = table
}

// UsersWithRole returns the user ids holding the role for an entity, sorted
// so rule evaluation produces stable step order.
func (d *StaticDirectory) UsersWithRole(_ context.Context, role, entityID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := d.members[entityID][role]
	out := append([]string(nil), users...)
	sort.Strings(out)
	return out, nil
}
