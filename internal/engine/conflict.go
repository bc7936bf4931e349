package engine

import (
	"encoding/json"
	"fmt"
)

type conflictMode string

const (
	conflictModeServerWins conflictMode = "server-wins"
	conflictModeClientWins conflictMode = "client-wins"
	conflictModeManual     conflictMode = "manual"
)

// Resolver merges a locally pending payload with the server's copy of the
// same entity and returns the payload to keep.
type Resolver func(local, server json.RawMessage) json.RawMessage

// ConflictResolution is the policy applied when a fetched entity collides
// with a pending unsynced local mutation for the same entity.
type ConflictResolution struct {
	mode     conflictMode
	resolver Resolver
}

// ServerWins returns the policy that discards the local copy on conflict.
func ServerWins() ConflictResolution {
	return ConflictResolution{mode: conflictModeServerWins}
}

// ClientWins returns the policy that keeps the local copy until the pending
// mutation is delivered.
func ClientWins() ConflictResolution {
	return ConflictResolution{mode: conflictModeClientWins}
}

// Manual returns the policy that delegates the merge to a resolver. A nil
// resolver degrades to server-wins.
func Manual(resolver Resolver) ConflictResolution {
	return ConflictResolution{mode: conflictModeManual, resolver: resolver}
}

// ParseConflictResolution maps a configuration string to a policy. The manual
// mode requires the embedder to attach a resolver via Manual; parsing "manual"
// yields the policy with no resolver, which degrades to server-wins.
func ParseConflictResolution(rawInput string) (ConflictResolution, error) {
	switch conflictMode(rawInput) {
	case conflictModeServerWins, "":
		return ServerWins(), nil
	case conflictModeClientWins:
		return ClientWins(), nil
	case conflictModeManual:
		return Manual(nil), nil
	default:
		return ConflictResolution{}, fmt.Errorf("engine: unknown conflict resolution %q", rawInput)
	}
}

// Mode returns the policy tag for diagnostics.
func (policy ConflictResolution) Mode() string {
	return string(policy.mode)
}

// resolve picks the payload to keep when the server returned an entity that
// also has a pending local mutation. Without a pending mutation there is no
// conflict and the server copy is authoritative.
func (policy ConflictResolution) resolve(local, server json.RawMessage, hasPending bool) json.RawMessage {
	if !hasPending || local == nil {
		return server
	}
	switch policy.mode {
	case conflictModeClientWins:
		return local
	case conflictModeManual:
		if policy.resolver != nil {
			return policy.resolver(local, server)
		}
		return server
	default:
		return server
	}
}
