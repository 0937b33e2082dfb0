package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livecollab/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// roomDocument is one room as stored in Mongo. Extra fields written by the
// CRUD side (name, owner, collaborators) are left untouched.
type roomDocument struct {
	RoomID       string         `bson:"roomId"`
	Language     string         `bson:"language,omitempty"`
	ActiveFileID *string        `bson:"activeFileId"`
	Files        []fileDocument `bson:"files"`
}

type fileDocument struct {
	ID       string  `bson:"id"`
	Name     string  `bson:"name"`
	Type     string  `bson:"type"`
	Content  string  `bson:"content"`
	Language string  `bson:"language"`
	ParentID *string `bson:"parentId"`
}

func toFileDocument(n models.FileNode) fileDocument {
	c := n.Clone()
	return fileDocument{
		ID:       c.ID,
		Name:     c.Name,
		Type:     string(c.Kind),
		Content:  c.Content,
		Language: c.Language,
		ParentID: c.ParentID,
	}
}

func (d roomDocument) snapshot() models.RoomSnapshot {
	snap := models.RoomSnapshot{Language: d.Language, ActiveFileID: copyID(d.ActiveFileID)}
	for _, f := range d.Files {
		snap.Files = append(snap.Files, models.FileNode{
			ID:       f.ID,
			Name:     f.Name,
			Kind:     models.FileKind(f.Type),
			Content:  f.Content,
			Language: f.Language,
			ParentID: copyID(f.ParentID),
		})
	}
	return snap
}

// Mongo wraps the rooms collection.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewMongo connects and ensures a unique index on roomId.
func NewMongo(ctx context.Context, uri, dbName, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MONGO_URI is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	col := client.Database(dbName).Collection(collection)
	if err := ensureRoomIndex(ctx, col); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &Mongo{client: client, col: col}, nil
}

// ensureRoomIndex creates the unique roomId index the upserts rely on.
func ensureRoomIndex(ctx context.Context, col *mongo.Collection) error {
	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create roomId index: %w", err)
	}
	return nil
}

func (m *Mongo) ReadRoom(ctx context.Context, roomID string) (models.RoomSnapshot, error) {
	var doc roomDocument
	opts := options.FindOne().SetProjection(bson.M{"roomId": 1, "language": 1, "activeFileId": 1, "files": 1})
	err := m.col.FindOne(ctx, bson.M{"roomId": roomID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.RoomSnapshot{}, nil
	}
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	return doc.snapshot(), nil
}

func (m *Mongo) WriteFileContent(ctx context.Context, roomID, fileID, content string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID, "files.id": fileID},
		bson.M{"$set": bson.M{"files.$.content": content}})
	return err
}

func (m *Mongo) WriteActiveFile(ctx context.Context, roomID string, fileID *string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{"activeFileId": fileID}},
		options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) WriteLanguage(ctx context.Context, roomID, language string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{"language": language}},
		options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) WriteFileLanguage(ctx context.Context, roomID, fileID, language string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID, "files.id": fileID},
		bson.M{"$set": bson.M{"files.$.language": language}})
	return err
}

func (m *Mongo) AppendFile(ctx context.Context, roomID string, node models.FileNode) error {
	if _, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$setOnInsert": bson.M{"roomId": roomID, "files": bson.A{}}},
		options.Update().SetUpsert(true)); err != nil {
		return err
	}
	// the $ne guard makes a replayed append a no-op
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID, "files.id": bson.M{"$ne": node.ID}},
		bson.M{"$push": bson.M{"files": toFileDocument(node)}})
	return err
}

func (m *Mongo) RemoveFile(ctx context.Context, roomID, fileID string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$pull": bson.M{"files": bson.M{"id": fileID}}})
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
