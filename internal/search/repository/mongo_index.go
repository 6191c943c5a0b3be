package repository

import (
	"context"
	"fmt"
	"strings"

	"video_platform_service/internal/search/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoSearchIndex struct {
	coll *mongo.Collection
}

// NewMongoSearchIndex create a SearchIndex backed by a Mongo text index
func NewMongoSearchIndex(db *mongo.Database, collName string) domain.SearchIndex {
	if collName == "" {
		collName = "video_index"
	}
	return &mongoSearchIndex{coll: db.Collection(collName)}
}

// EnsureIndexes 建立 text index 與常用過濾欄位的索引
func EnsureIndexes(ctx context.Context, db *mongo.Database, collName string) error {
	if collName == "" {
		collName = "video_index"
	}
	coll := db.Collection(collName)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "tags", Value: "text"},
			},
			Options: options.Index().SetName("video_text_search"),
		},
		{Keys: bson.D{{Key: "video_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "category_id", Value: 1}}},
		{Keys: bson.D{{Key: "uploaded_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create search indexes failed: %w", err)
	}
	return nil
}

// IndexVideo upsert，重複索引同一支影片是冪等的
func (r *mongoSearchIndex) IndexVideo(ctx context.Context, doc domain.IndexedVideo) error {
	filter := bson.M{"video_id": doc.VideoID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, filter, update, opts)
	return err
}

// UpdateVideo 與 IndexVideo 同語義
func (r *mongoSearchIndex) UpdateVideo(ctx context.Context, doc domain.IndexedVideo) error {
	return r.IndexVideo(ctx, doc)
}

// DeleteVideo 影片刪除時把索引文件一起清掉
func (r *mongoSearchIndex) DeleteVideo(ctx context.Context, videoID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"video_id": videoID})
	return err
}

// Search $text 全文查詢加過濾條件，依 textScore 降序
func (r *mongoSearchIndex) Search(ctx context.Context, query domain.SearchQuery) ([]domain.IndexSearchHit, int64, error) {
	filter := bson.M{
		"status":     "ready",
		"visibility": "PUBLIC",
	}
	if strings.TrimSpace(query.Query) != "" {
		filter["$text"] = bson.M{"$search": query.Query}
	}
	if query.CategoryID != "" {
		filter["category_id"] = query.CategoryID
	}
	if query.UserID != "" {
		filter["user_id"] = query.UserID
	}
	if len(query.Tags) > 0 {
		filter["tags"] = bson.M{"$all": query.Tags}
	}

	duration := bson.M{}
	if query.MinDuration > 0 {
		duration["$gte"] = query.MinDuration
	}
	if query.MaxDuration > 0 {
		duration["$lte"] = query.MaxDuration
	}
	if len(duration) > 0 {
		filter["duration"] = duration
	}

	uploaded := bson.M{}
	if query.UploadedAfter != nil {
		uploaded["$gte"] = *query.UploadedAfter
	}
	if query.UploadedBefore != nil {
		uploaded["$lte"] = *query.UploadedBefore
	}
	if len(uploaded) > 0 {
		filter["uploaded_at"] = uploaded
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents failed: %w", err)
	}

	opts := options.Find().
		SetSkip(int64((query.Page - 1) * query.Limit)).
		SetLimit(int64(query.Limit))
	hasText := strings.TrimSpace(query.Query) != ""
	if hasText {
		// textScore 要先 project 出來才能 sort
		opts.SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}})
		opts.SetSort(bson.M{"score": bson.M{"$meta": "textScore"}})
	} else {
		opts.SetSort(bson.M{"uploaded_at": -1})
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find failed: %w", err)
	}
	defer cur.Close(ctx)

	var hits []domain.IndexSearchHit
	for cur.Next(ctx) {
		var row struct {
			domain.IndexedVideo `bson:",inline"`
			Score               float64 `bson:"score"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, 0, fmt.Errorf("decode document failed: %w", err)
		}
		hits = append(hits, domain.IndexSearchHit{Video: row.IndexedVideo, Score: row.Score})
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}
