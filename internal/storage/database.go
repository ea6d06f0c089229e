package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/bookstalk/internal/types"
)

// bookDocument is the MongoDB shape of one ranked record.
type bookDocument struct {
	Site        string    `bson:"site"`
	Rank        int       `bson:"rank"`
	Image       string    `bson:"image"`
	Link        string    `bson:"link"`
	Title       string    `bson:"title"`
	Author      string    `bson:"author"`
	WriterInfo  string    `bson:"writer_info"`
	Description string    `bson:"description"`
	Other       string    `bson:"other"`
	ScrapedAt   time.Time `bson:"scraped_at"`
}

func (d bookDocument) record() types.BookRecord {
	return types.BookRecord{
		Image:       d.Image,
		Link:        d.Link,
		Title:       d.Title,
		Author:      d.Author,
		WriterInfo:  d.WriterInfo,
		Description: d.Description,
		Other:       d.Other,
	}
}

// MongoStorage keeps every site's records in one MongoDB collection,
// replaced per site on each store.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewMongoStorage creates a new MongoDB storage backend.
func NewMongoStorage(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStorage{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

func (s *MongoStorage) Store(ctx context.Context, site string, records []types.BookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.collection.DeleteMany(ctx, bson.M{"site": site}); err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("mongodb delete: %w", err)}
	}
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = bookDocument{
			Site:        site,
			Rank:        i + 1,
			Image:       r.Image,
			Link:        r.Link,
			Title:       r.Title,
			Author:      r.Author,
			WriterInfo:  r.WriterInfo,
			Description: r.Description,
			Other:       r.Other,
			ScrapedAt:   now,
		}
	}

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("mongodb insert: %w", err)}
	}

	s.logger.Debug("records stored in mongodb", "site", site, "count", len(records))
	return nil
}

func (s *MongoStorage) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "rank", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.M{"site": site}, opts)
	if err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("mongodb find: %w", err)}
	}
	defer cur.Close(ctx)

	var docs []bookDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: fmt.Errorf("mongodb decode: %w", err)}
	}
	if len(docs) == 0 {
		return nil, &types.StorageError{Backend: s.Name(), Site: site, Err: types.ErrNoData}
	}

	records := make([]types.BookRecord, len(docs))
	for i, d := range docs {
		records[i] = d.record()
	}
	return records, nil
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes records to multiple backends and loads from the
// first one that has them.
type MultiStorage struct {
	backends []Backend
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Backend, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

// Store writes to every backend and returns the first failure.
func (s *MultiStorage) Store(ctx context.Context, site string, records []types.BookRecord) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Store(ctx, site, records); err != nil {
			s.logger.Error("backend store failed", "backend", backend.Name(), "site", site, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStorage) Load(ctx context.Context, site string) ([]types.BookRecord, error) {
	var lastErr error = &types.StorageError{Backend: s.Name(), Site: site, Err: types.ErrNoData}
	for _, backend := range s.backends {
		records, err := backend.Load(ctx, site)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, types.ErrNoData) {
			s.logger.Warn("backend load failed", "backend", backend.Name(), "site", site, "error", err)
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *MultiStorage) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
