// Package mongo implements the blob store on MongoDB.
//
// The layout mirrors GridFS: one metadata document per entry in the
// "<collection>.files" collection, keyed by the cache key, and the body in
// bounded chunk documents in "<collection>.chunks", keyed by a per-write
// blob id plus sequence index. Every Put writes its chunks under a fresh
// blob id before swapping the metadata document, so a reader that sees the
// metadata always finds a complete, single-generation chunk sequence.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crawlkit/fetchcache/pkg/blobstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config holds the MongoDB store configuration.
type Config struct {
	// URI is the mongodb:// connection string. A database name in the URI
	// path overrides Database, matching the usual driver convention.
	URI string

	// Database is the database name used when the URI does not carry one.
	Database string

	// Collection is the collection name prefix; documents live in
	// "<Collection>.files" and "<Collection>.chunks".
	Collection string

	// ChunkSize bounds individual chunk payloads. Zero selects
	// blobstore.DefaultChunkSize.
	ChunkSize int
}

// DefaultConfig returns a configuration for a local MongoDB.
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "fetchcache",
		Collection: "httpcache",
		ChunkSize:  blobstore.DefaultChunkSize,
	}
}

// FromEnv builds a Config from the environment, with the same fallback
// chain the cache has always used: CACHE_MONGO_URI then MONGO_URI,
// CACHE_DATABASE then MONGO_DATABASE.
func FromEnv() Config {
	cfg := DefaultConfig()
	if uri := firstEnv("CACHE_MONGO_URI", "MONGO_URI"); uri != "" {
		cfg.URI = uri
	}
	if db := firstEnv("CACHE_DATABASE", "MONGO_DATABASE"); db != "" {
		cfg.Database = db
	}
	if coll := os.Getenv("CACHE_COLLECTION"); coll != "" {
		cfg.Collection = coll
	}
	if size := os.Getenv("CACHE_CHUNK_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	return cfg
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// fileDoc is the per-entry metadata document.
type fileDoc struct {
	Key      string             `bson:"_id"`
	Meta     primitive.Binary   `bson:"meta"`
	Blob     primitive.ObjectID `bson:"blob_id"`
	Chunks   int32              `bson:"n"`
	Length   int64              `bson:"length"`
	StoredAt time.Time          `bson:"stored_at"`
}

// chunkDoc is one bounded slice of a body payload.
type chunkDoc struct {
	Blob primitive.ObjectID `bson:"files_id"`
	N    int32              `bson:"n"`
	Data primitive.Binary   `bson:"data"`
}

// Store implements blobstore.Store on MongoDB.
type Store struct {
	client    *mongo.Client
	files     *mongo.Collection
	chunks    *mongo.Collection
	chunkSize int
}

// New connects to MongoDB and prepares the cache collections, including the
// chunk-sequence and stored_at indexes.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, &blobstore.StorageError{Op: "connect", Err: err}
	}

	database := cfg.Database
	if fromURI := databaseFromURI(cfg.URI); fromURI != "" {
		database = fromURI
	}
	if database == "" {
		return nil, fmt.Errorf("mongo: no database configured")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "httpcache"
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = blobstore.DefaultChunkSize
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		files:     db.Collection(collection + ".files"),
		chunks:    db.Collection(collection + ".chunks"),
		chunkSize: chunkSize,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// databaseFromURI extracts the database name from a mongodb:// URI path,
// if present.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return &blobstore.StorageError{Op: "create chunk index", Err: err}
	}
	_, err = s.files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stored_at", Value: 1}},
	})
	if err != nil {
		return &blobstore.StorageError{Op: "create files index", Err: err}
	}
	return nil
}

// Put implements blobstore.Store. Chunks are committed under a fresh blob
// id before the metadata document is swapped, and the superseded blob's
// chunks are removed afterwards.
func (s *Store) Put(ctx context.Context, key string, meta, body []byte) error {
	blob := primitive.NewObjectID()

	pieces := blobstore.SplitChunks(body, s.chunkSize)
	if len(pieces) > 0 {
		docs := make([]interface{}, len(pieces))
		for i, piece := range pieces {
			docs[i] = chunkDoc{
				Blob: blob,
				N:    int32(i),
				Data: primitive.Binary{Data: piece},
			}
		}
		if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
			// Roll back whatever landed so no unreferenced chunks remain.
			_, _ = s.chunks.DeleteMany(ctx, bson.M{"files_id": blob})
			return &blobstore.StorageError{Op: "put chunks", Err: err}
		}
	}

	doc := fileDoc{
		Key:      key,
		Meta:     primitive.Binary{Data: meta},
		Blob:     blob,
		Chunks:   int32(len(pieces)),
		Length:   int64(len(body)),
		StoredAt: time.Now().UTC(),
	}

	var prev fileDoc
	err := s.files.FindOneAndReplace(ctx,
		bson.M{"_id": key}, doc,
		options.FindOneAndReplace().SetUpsert(true),
	).Decode(&prev)
	switch {
	case err == nil:
		// Superseded generation: reclaim its chunks.
		if prev.Blob != blob {
			if _, err := s.chunks.DeleteMany(ctx, bson.M{"files_id": prev.Blob}); err != nil {
				return &blobstore.StorageError{Op: "reclaim chunks", Err: err}
			}
		}
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil
	default:
		_, _ = s.chunks.DeleteMany(ctx, bson.M{"files_id": blob})
		return &blobstore.StorageError{Op: "put metadata", Err: err}
	}
}

// Get implements blobstore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, []byte, error) {
	var doc fileDoc
	if err := s.files.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, blobstore.ErrNotFound
		}
		return nil, nil, &blobstore.StorageError{Op: "get metadata", Err: err}
	}

	body, err := s.readBody(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return doc.Meta.Data, body, nil
}

// readBody reassembles the chunk sequence of one blob generation, verifying
// the sequence indexes and total length against the metadata document.
func (s *Store) readBody(ctx context.Context, doc fileDoc) ([]byte, error) {
	if doc.Chunks == 0 {
		return nil, nil
	}

	cursor, err := s.chunks.Find(ctx,
		bson.M{"files_id": doc.Blob},
		options.Find().SetSort(bson.D{{Key: "n", Value: 1}}),
	)
	if err != nil {
		return nil, &blobstore.StorageError{Op: "get chunks", Err: err}
	}
	defer cursor.Close(ctx)

	body := make([]byte, 0, doc.Length)
	next := int32(0)
	for cursor.Next(ctx) {
		var chunk chunkDoc
		if err := cursor.Decode(&chunk); err != nil {
			return nil, &blobstore.StorageError{Op: "decode chunk", Err: err}
		}
		if chunk.N != next {
			return nil, fmt.Errorf("%w: chunk %d out of sequence (want %d)",
				blobstore.ErrCorruptEntry, chunk.N, next)
		}
		next++
		body = append(body, chunk.Data.Data...)
	}
	if err := cursor.Err(); err != nil {
		return nil, &blobstore.StorageError{Op: "iterate chunks", Err: err}
	}
	if next != doc.Chunks {
		return nil, fmt.Errorf("%w: got %d chunks, metadata says %d",
			blobstore.ErrCorruptEntry, next, doc.Chunks)
	}
	if int64(len(body)) != doc.Length {
		return nil, fmt.Errorf("%w: reassembled %d bytes, metadata says %d",
			blobstore.ErrCorruptEntry, len(body), doc.Length)
	}
	return body, nil
}

// Meta implements blobstore.Store.
func (s *Store) Meta(ctx context.Context, key string) ([]byte, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx,
		bson.M{"_id": key},
		options.FindOne().SetProjection(bson.M{"meta": 1}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, blobstore.ErrNotFound
		}
		return nil, &blobstore.StorageError{Op: "get metadata", Err: err}
	}
	return doc.Meta.Data, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	var doc fileDoc
	err := s.files.FindOneAndDelete(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return blobstore.ErrNotFound
		}
		return &blobstore.StorageError{Op: "delete metadata", Err: err}
	}
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"files_id": doc.Blob}); err != nil {
		return &blobstore.StorageError{Op: "delete chunks", Err: err}
	}
	return nil
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.files.CountDocuments(ctx, bson.M{"_id": key},
		options.Count().SetLimit(1))
	if err != nil {
		return false, &blobstore.StorageError{Op: "exists", Err: err}
	}
	return count > 0, nil
}

// Keys implements blobstore.Store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	cursor, err := s.files.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, &blobstore.StorageError{Op: "list keys", Err: err}
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, &blobstore.StorageError{Op: "decode key", Err: err}
		}
		keys = append(keys, doc.Key)
	}
	if err := cursor.Err(); err != nil {
		return nil, &blobstore.StorageError{Op: "list keys", Err: err}
	}
	return keys, nil
}

// ChunkCount returns the number of chunk documents referenced by the
// current generation of key, or the total across all generations when key
// is empty. Diagnostic accessor used by tests to verify chunk reclaim.
func (s *Store) ChunkCount(ctx context.Context, key string) (int64, error) {
	filter := bson.M{}
	if key != "" {
		var doc fileDoc
		if err := s.files.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return 0, nil
			}
			return 0, &blobstore.StorageError{Op: "chunk count", Err: err}
		}
		filter = bson.M{"files_id": doc.Blob}
	}
	count, err := s.chunks.CountDocuments(ctx, filter)
	if err != nil {
		return 0, &blobstore.StorageError{Op: "chunk count", Err: err}
	}
	return count, nil
}

// Ping verifies connectivity to the backing database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return &blobstore.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close implements blobstore.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
