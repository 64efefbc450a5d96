// Package mongo keeps transactions in a MongoDB collection, one document
// per transaction, queried by owner.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledger/internal/core"
)

type transactionDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      string             `bson:"userId"`
	AmountCents int64              `bson:"amountCents"`
	Category    string             `bson:"category"`
	Description string             `bson:"description"`
	Type        string             `bson:"type"`
	Date        time.Time          `bson:"date"`
}

func toDoc(tx core.Transaction) transactionDoc {
	tx = tx.Normalize()
	return transactionDoc{
		UserID:      tx.UserID,
		AmountCents: tx.Amount.Cents,
		Category:    string(tx.Category),
		Description: tx.Description,
		Type:        string(tx.Type),
		Date:        tx.Date.UTC(),
	}
}

func (d transactionDoc) toCore() core.Transaction {
	return core.Transaction{
		ID:          d.ID.Hex(),
		UserID:      d.UserID,
		Amount:      core.Cents(d.AmountCents),
		Category:    core.Category(d.Category),
		Description: d.Description,
		Type:        core.TransactionType(d.Type),
		Date:        d.Date,
	}.Normalize()
}

// patchUpdate builds the $set document for p. Type follows the amount.
func patchUpdate(p core.TransactionPatch) bson.M {
	set := bson.M{}
	if p.Amount != nil {
		set["amountCents"] = p.Amount.Cents
		set["type"] = string(core.TypeOf(*p.Amount))
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.Category != nil {
		set["category"] = string(*p.Category)
	}
	return bson.M{"$set": set}
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials uri, verifies the connection and ensures the owner index.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create mongo index: %w", err)
	}

	return &Store{client: client, coll: coll}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Create(ctx context.Context, tx core.Transaction) (string, error) {
	res, err := s.coll.InsertOne(ctx, toDoc(tx))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	cur, err := s.coll.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	out := make([]core.Transaction, len(docs))
	for i, d := range docs {
		out[i] = d.toCore()
	}
	return out, nil
}

func ownedFilter(userID, id string) (bson.M, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, core.ErrNotFound
	}
	return bson.M{"_id": oid, "userId": userID}, nil
}

func (s *Store) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, filter, patchUpdate(patch))
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	filter, err := ownedFilter(userID, id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return core.ErrNotFound
	}
	return nil
}
