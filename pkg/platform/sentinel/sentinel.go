// Package sentinel holds the infrastructure sentinel errors shared by
// stores. Stores return these (optionally wrapped) so services can translate
// them without string matching.
package sentinel

import "errors"

// ErrNotFound reports that an entity does not exist in a store. Absence is a
// factual state, not a validation failure.
var ErrNotFound = errors.New("not found")
