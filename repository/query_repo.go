package repository

import (
	"context"

	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type queryRepo struct {
	collection *mongo.Collection
}

func NewQueryRepo(collection *mongo.Collection) database.QueryStore {
	return &queryRepo{
		collection: collection,
	}
}

// AppendQueryRecord inserts only; records are never updated or removed.
func (r *queryRepo) AppendQueryRecord(ctx context.Context, rec *types.QueryRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

func (r *queryRepo) ListQueryRecordsByUser(ctx context.Context, userID string, limit int64) ([]types.QueryRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var recs []types.QueryRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
