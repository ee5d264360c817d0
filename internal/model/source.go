package model

import "slices"

// Source is a registered data source owned by one user.
// AllowedKinds maps each permitted kind to its accepted schema versions.
type Source struct {
	ID           string         `json:"id" yaml:"id"`
	UserID       string         `json:"userId" yaml:"user_id"`
	Provider     string         `json:"provider" yaml:"provider"`
	Active       bool           `json:"active" yaml:"active"`
	AllowedKinds map[Kind][]int `json:"allowedKinds" yaml:"allowed_kinds"`
}

// AllowsKind reports whether the source accepts kind at all.
func (s Source) AllowsKind(kind Kind) bool {
	_, ok := s.AllowedKinds[kind]
	return ok
}

// AllowsSchemaVersion reports whether kind is accepted at version.
func (s Source) AllowsSchemaVersion(kind Kind, version int) bool {
	return slices.Contains(s.AllowedKinds[kind], version)
}
