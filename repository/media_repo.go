package repository

import (
	"context"
	"errors"

	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mediaRepo struct {
	collection *mongo.Collection
}

func NewMediaRepo(collection *mongo.Collection) database.MediaStore {
	return &mediaRepo{
		collection: collection,
	}
}

func (r *mediaRepo) CreateMediaItems(ctx context.Context, items []types.MediaItem) error {
	if len(items) == 0 {
		return nil
	}
	docs := make([]interface{}, len(items))
	for i := range items {
		docs[i] = items[i]
	}
	_, err := r.collection.InsertMany(ctx, docs)
	return err
}

func (r *mediaRepo) GetMediaItem(ctx context.Context, id string) (*types.MediaItem, error) {
	var item types.MediaItem
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *mediaRepo) ListMediaByPages(ctx context.Context, documentID string, pages []int) ([]types.MediaItem, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	cursor, err := r.collection.Find(ctx, bson.M{
		"document_id": documentID,
		"page":        bson.M{"$in": pages},
	}, options.Find().SetSort(bson.D{{Key: "page", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []types.MediaItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *mediaRepo) DeleteMediaByDocument(ctx context.Context, documentID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"document_id": documentID})
	return err
}
