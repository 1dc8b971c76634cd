package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// getOne loads the single document keyed by idField == id into out.
func (s *Store) getOne(ctx context.Context, collection, idField, id string, out interface{}) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	err := s.database.Collection(collection).FindOne(ctx, bson.M{idField: id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w for %s: %s", ErrNotFound, idField, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s %s: %w", collection, id, err)
	}
	return nil
}

// updateOne applies a validated field map as a single-document $set keyed by
// idField == id and decodes the post-update document into out. The
// conditional single-document write is what makes repeated state transitions
// idempotent across concurrent workers.
func (s *Store) updateOne(ctx context.Context, collection, idField, id string, allowed map[string]bool, fields map[string]interface{}, out interface{}) error {
	update, err := buildUpdateDocument(allowed, fields)
	if err != nil {
		return err
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	result := s.database.Collection(collection).FindOneAndUpdate(
		ctx,
		bson.M{idField: id},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	err = result.Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w for %s: %s", ErrNotFound, idField, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", collection, id, err)
	}
	return nil
}

// insertOne creates a new document.
func (s *Store) insertOne(ctx context.Context, collection string, document interface{}) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := s.database.Collection(collection).InsertOne(ctx, document); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// replaceOne upserts a document keyed by idField == id, making creation
// idempotent by primary id.
func (s *Store) replaceOne(ctx context.Context, collection, idField, id string, document interface{}) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := s.database.Collection(collection).ReplaceOne(
		ctx,
		bson.M{idField: id},
		document,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", collection, err)
	}
	return nil
}
