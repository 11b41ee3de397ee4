package mongodb

import (
	"context"
	"time"

	"github.com/goevery/livefeed/internal/journal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const retention = 5 * 24 * time.Hour

type Announcement struct {
	Id         string    `bson:"_id"`
	Type       string    `bson:"type"`
	CreateTime time.Time `bson:"createTime"`
	Recipients int       `bson:"recipients"`
	Failed     int       `bson:"failed"`
}

type JournalEngine struct {
	collection *mongo.Collection
}

func NewJournalEngine(client *mongo.Client, databaseName string) *JournalEngine {
	database := client.Database(databaseName)
	collection := database.Collection("announcements")

	return &JournalEngine{
		collection,
	}
}

func (e *JournalEngine) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "createTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
	}

	typeIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "createTime", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, typeIndexModel})

	return err
}

func (e *JournalEngine) Record(ctx context.Context, entry journal.Entry) error {
	_, err := e.collection.InsertOne(ctx, toAnnouncement(entry))

	return err
}

func toAnnouncement(entry journal.Entry) Announcement {
	return Announcement{
		Id:         entry.AnnouncementId,
		Type:       string(entry.Type),
		CreateTime: entry.CreateTime.UTC(),
		Recipients: entry.Recipients,
		Failed:     entry.Failed,
	}
}
