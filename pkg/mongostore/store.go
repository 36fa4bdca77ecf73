// Package mongostore persists run-once records in MongoDB. The _id unique
// index gives Insert its duplicate detection, and Claim is a filtered
// UpdateOne checked via MatchedCount.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

const defaultCollection = "run_once_records"

// Store implements runonce.Store over a MongoDB collection.
type Store struct {
	collection *mongo.Collection
	nowFunc    func() time.Time
}

// NewStore returns a Store over the default collection of db.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		collection: db.Collection(defaultCollection),
		nowFunc:    time.Now,
	}
}

// document is the persisted shape; _id is the idempotency key.
type document struct {
	ID         string     `bson:"_id"`
	StartedAt  time.Time  `bson:"startedAt"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty"`
	StatusID   int        `bson:"statusId"`
	Request    *string    `bson:"request,omitempty"`
	Response   *string    `bson:"response,omitempty"`
}

func (s *Store) Insert(ctx context.Context, rec *runonce.Record) error {
	doc := document{
		ID:        rec.Key,
		StartedAt: s.nowFunc().UTC(),
		StatusID:  int(runonce.StatusRunning),
		Request:   rec.Request,
	}

	_, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert %q: %w", rec.Key, runonce.ErrDuplicateKey)
		}
		return fmt.Errorf("insert %q: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (*runonce.Record, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %q: %w", key, err)
	}

	rec := &runonce.Record{
		Key:        doc.ID,
		StartedAt:  doc.StartedAt,
		FinishedAt: doc.FinishedAt,
		Status:     runonce.Status(doc.StatusID),
		Request:    doc.Request,
		Response:   doc.Response,
	}
	return rec, nil
}

func (s *Store) Finish(ctx context.Context, key string, response *string, status runonce.Status) error {
	now := s.nowFunc().UTC()

	update := bson.M{
		"$set": bson.M{
			"finishedAt": now,
			"statusId":   int(status),
		},
	}
	if response != nil {
		update["$set"].(bson.M)["response"] = *response
	} else {
		update["$unset"] = bson.M{"response": ""}
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": key}, update)
	if err != nil {
		return fmt.Errorf("finish %q: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("finish %q: record not found", key)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, key string, expected runonce.Status) (bool, error) {
	filter := bson.M{
		"_id":      key,
		"statusId": int(expected),
	}
	update := bson.M{
		"$set": bson.M{
			"statusId":  int(runonce.StatusRunning),
			"startedAt": s.nowFunc().UTC(),
		},
	}

	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("claim %q: %w", key, err)
	}
	return res.MatchedCount == 1, nil
}

// EnsureIndexes creates the supporting index for cleanup scans. The _id
// unique index Insert depends on exists implicitly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "finishedAt", Value: 1}},
		Options: options.Index().SetSparse(true).SetName("idx_finished_at"),
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}
