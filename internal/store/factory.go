package store

import (
	"context"
	"log"
)

// NewStore picks the backing store from configuration: PostgreSQL when a
// database URL is set, in-memory otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		log.Printf("store: no database configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	pg, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	log.Printf("store: connected to postgres")
	return pg, nil
}
