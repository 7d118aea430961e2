package domain

import "context"

// MessageStore persists canonical messages.
type MessageStore interface {
	// Save assigns an id and stores msg. A redelivered native message yields
	// *DuplicateError carrying the existing id.
	Save(ctx context.Context, msg *Message) (string, error)
	Get(ctx context.Context, id string) (*Message, error)
	// List returns messages newest first.
	List(ctx context.Context, f ListFilter) ([]Message, error)
	Update(ctx context.Context, id string, u MessageUpdate) error
	Ping(ctx context.Context) error
	Close() error
}
