// Package db implements the OPERANDI state store on MongoDB. It holds the
// document models for workspaces, workflows, workflow jobs, HPC slurm jobs
// and users, and exposes per-entity get/update/create operations.
//
// Every write is a single-document update keyed by the entity's primary id;
// no multi-document transactions are used because each entity's fields are
// co-located in one document. Field-map updates are validated against the
// entity schema: unknown keys and attempts to mutate the primary id are
// rejected with ErrUnknownField before anything reaches the database.
//
// The operations are blocking and context-aware. Worker subprocesses call
// them directly; the REST layer wraps the same store in its own asynchronous
// adapter.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	// ErrNotFound is returned when no document exists for the given id.
	ErrNotFound = errors.New("no database entry found")

	// ErrUnknownField is returned when an update names a field outside the
	// entity schema or tries to mutate the primary id.
	ErrUnknownField = errors.New("field not available for update")
)

// opTimeout bounds every single store operation.
const opTimeout = 10 * time.Second

// databaseName is the MongoDB database holding all OPERANDI collections.
const databaseName = "operandi"

// Store wraps a MongoDB client and provides the entity operations. A Store
// is safe for concurrent use; all mutating operations are single-document
// updates keyed by primary id.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect dials MongoDB, verifies the connection with a ping and returns a
// ready Store.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client:   client,
		database: client.Database(databaseName),
	}, nil
}

// Close disconnects the underlying MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// opContext derives the bounded context used for one store operation.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}
