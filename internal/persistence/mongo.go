package persistence

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fileDoc is one file or folder of a project in the files collection.
type fileDoc struct {
	ProjectID string    `bson:"project_id"`
	Path      string    `bson:"path"`
	Parent    string    `bson:"parent"`
	Name      string    `bson:"name"`
	IsDir     bool      `bson:"is_dir"`
	Content   string    `bson:"content"`
	Size      int64     `bson:"size"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps projects and their files in MongoDB.
type MongoStore struct {
	client   *mongo.Client
	projects *mongo.Collection
	files    *mongo.Collection
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, database), nil
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		projects: db.Collection("projects"),
		files:    db.Collection("files"),
	}
}

// EnsureIndexes creates the lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.projects.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create projects index: %w", err)
	}
	_, err = s.files.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "path", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "parent", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create files indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) FindProjectByRoom(ctx context.Context, roomID string) (Project, error) {
	var p Project
	err := s.projects.FindOne(ctx, bson.M{"room_id": roomID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("find project for room %s: %w", roomID, err)
	}
	return p, nil
}

func (s *MongoStore) ReadFile(ctx context.Context, projectID, filePath string) (string, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx, bson.M{"project_id": projectID, "path": filePath, "is_dir": false}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return doc.Content, nil
}

func (s *MongoStore) WriteFile(ctx context.Context, projectID, filePath, content string) error {
	if err := s.mkdirAll(ctx, projectID, parentOf(filePath)); err != nil {
		return err
	}
	filter := bson.M{"project_id": projectID, "path": filePath}
	update := bson.M{"$set": fileDoc{
		ProjectID: projectID,
		Path:      filePath,
		Parent:    parentOf(filePath),
		Name:      path.Base(filePath),
		Content:   content,
		Size:      int64(len(content)),
		UpdatedAt: time.Now(),
	}}
	if _, err := s.files.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return nil
}

func (s *MongoStore) ListDirectory(ctx context.Context, projectID, dir string) ([]Entry, error) {
	if dir != "" {
		n, err := s.files.CountDocuments(ctx, bson.M{"project_id": projectID, "path": dir, "is_dir": true})
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", dir, err)
		}
		if n == 0 {
			return nil, ErrNotFound
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "is_dir", Value: -1}, {Key: "name", Value: 1}}).
		SetProjection(bson.M{"content": 0})
	cursor, err := s.files.Find(ctx, bson.M{"project_id": projectID, "parent": dir}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer cursor.Close(ctx)

	var docs []fileDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, Entry{
			Name:       d.Name,
			Path:       d.Path,
			IsDir:      d.IsDir,
			Size:       d.Size,
			ModifiedAt: d.UpdatedAt,
		})
	}
	return entries, nil
}

func (s *MongoStore) CreateDirectory(ctx context.Context, projectID, dir string) error {
	return s.mkdirAll(ctx, projectID, dir)
}

func (s *MongoStore) DeleteFile(ctx context.Context, projectID, filePath string) error {
	res, err := s.files.DeleteOne(ctx, bson.M{"project_id": projectID, "path": filePath, "is_dir": false})
	if err != nil {
		return fmt.Errorf("delete %s: %w", filePath, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteDirectory(ctx context.Context, projectID, dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: refusing to delete project root", ErrInvalidPath)
	}
	filter := bson.M{
		"project_id": projectID,
		"$or": bson.A{
			bson.M{"path": dir, "is_dir": true},
			bson.M{"path": bson.M{"$regex": "^" + regexp.QuoteMeta(dir+"/")}},
		},
	}
	res, err := s.files.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete %s: %w", dir, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// mkdirAll upserts dir and each of its ancestors.
func (s *MongoStore) mkdirAll(ctx context.Context, projectID, dir string) error {
	for ; dir != ""; dir = parentOf(dir) {
		filter := bson.M{"project_id": projectID, "path": dir}
		update := bson.M{"$setOnInsert": fileDoc{
			ProjectID: projectID,
			Path:      dir,
			Parent:    parentOf(dir),
			Name:      path.Base(dir),
			IsDir:     true,
			UpdatedAt: time.Now(),
		}}
		if _, err := s.files.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
