package engine

import "github.com/google/uuid"

// IDProvider issues identifiers for mutation records and client-created
// entities. Identifiers must be stable across retries so the server can
// deduplicate redelivered operations.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
// V7 ids sort by creation time, which keeps tie-breaking on equal enqueue
// timestamps consistent with enqueue order.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
