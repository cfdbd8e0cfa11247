// Package mongoapi answers the record API from a MongoDB database. Collections
// have no declared schema, so columns are synthesized from sampled documents.
package mongoapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kadirbelkuyu/tablescope/internal/backend"
	"github.com/kadirbelkuyu/tablescope/internal/config"
	"github.com/kadirbelkuyu/tablescope/pkg/logger"
)

const (
	idField = "_id"

	// DefaultSampleSize is how many documents per collection feed the
	// synthesized column list.
	DefaultSampleSize = 20
)

// Source implements backend.API and backend.Pinger over a mongo database.
type Source struct {
	client     *mongo.Client
	database   *mongo.Database
	log        *logger.Logger
	sampleSize int64
	owned      bool

	mu          sync.Mutex
	collections map[string]*collectionMeta
}

// Open connects with the mongo settings of cfg and pings the server.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Source, error) {
	uri := cfg.GetMongoURI()
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongodb config is incomplete")
	}
	if strings.TrimSpace(cfg.Database.Database) == "" {
		return nil, fmt.Errorf("database field is required for the mongo source")
	}
	if log == nil {
		log = logger.Discard()
	}
	log.WithField("uri", MaskURI(uri)).Info("connecting to MongoDB")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	source := New(client.Database(cfg.Database.Database), log)
	source.owned = true
	return source, nil
}

// New wraps an existing database handle. Close leaves its client connected.
func New(database *mongo.Database, log *logger.Logger) *Source {
	if log == nil {
		log = logger.Discard()
	}
	return &Source{
		client:     database.Client(),
		database:   database,
		log:        log,
		sampleSize: DefaultSampleSize,
	}
}

func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Schema samples every collection and returns the schema document.
func (s *Source) Schema(ctx context.Context) ([]byte, error) {
	names, err := s.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)

	samples := make(map[string][]bson.D, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		docs, err := s.sample(ctx, name)
		if err != nil {
			return nil, err
		}
		samples[name] = docs
	}

	collections := synthesize(samples)

	s.mu.Lock()
	s.collections = make(map[string]*collectionMeta, len(collections))
	for _, meta := range collections {
		s.collections[meta.Name] = meta
	}
	s.mu.Unlock()

	s.log.WithField("database", s.database.Name()).Infof("%d collections sampled", len(collections))
	return encodeDocument(collections, time.Now())
}

func (s *Source) sample(ctx context.Context, name string) ([]bson.D, error) {
	opts := options.Find().SetLimit(s.sampleSize).SetSort(bson.D{{Key: idField, Value: 1}})
	cursor, err := s.database.Collection(name).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", name, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", name, err)
	}
	return docs, nil
}

func (s *Source) collection(ctx context.Context, name string) (*collectionMeta, error) {
	s.mu.Lock()
	loaded := s.collections != nil
	s.mu.Unlock()

	if !loaded {
		if _, err := s.Schema(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.collections[name]
	if !ok {
		return nil, statusError(http.MethodGet, name, http.StatusNotFound, "Unknown table")
	}
	return meta, nil
}

func (s *Source) List(ctx context.Context, name string, page, perPage int) (any, error) {
	if _, err := s.collection(ctx, name); err != nil {
		return nil, err
	}
	perPage = backend.ClampPerPage(perPage)
	if page < 1 {
		page = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: idField, Value: 1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))

	cursor, err := s.database.Collection(name).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, translate(http.MethodGet, name, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translate(http.MethodGet, name, err)
	}

	items := make([]any, len(docs))
	for i, doc := range docs {
		items[i] = normalizeValue(doc)
	}
	return map[string]any{"items": items, "page": page, "per_page": perPage}, nil
}

func (s *Source) Count(ctx context.Context, name string) (any, error) {
	if _, err := s.collection(ctx, name); err != nil {
		return nil, err
	}
	count, err := s.database.Collection(name).CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, translate(http.MethodGet, name, err)
	}
	return map[string]any{"count": count}, nil
}

func (s *Source) Get(ctx context.Context, name, id string) (any, error) {
	if _, err := s.collection(ctx, name); err != nil {
		return nil, err
	}

	var doc bson.M
	err := s.database.Collection(name).FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, statusError(http.MethodGet, name+"/"+id, http.StatusNotFound, "Not found")
	}
	if err != nil {
		return nil, translate(http.MethodGet, name, err)
	}
	return normalizeValue(doc), nil
}

func (s *Source) Create(ctx context.Context, name string, payload map[string]any) (any, error) {
	meta, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}

	doc := make(bson.M, len(payload))
	for field, value := range payload {
		doc[field] = meta.coerce(field, value)
	}

	coll := s.database.Collection(name)
	result, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translate(http.MethodPost, name, err)
	}
	s.log.WithField("table", name).WithField("id", result.InsertedID).Debug("document inserted")

	var created bson.M
	if err := coll.FindOne(ctx, bson.M{idField: result.InsertedID}).Decode(&created); err != nil {
		return map[string]any{idField: normalizeValue(result.InsertedID)}, nil
	}
	return normalizeValue(created), nil
}

func (s *Source) Delete(ctx context.Context, name, id string) error {
	if _, err := s.collection(ctx, name); err != nil {
		return err
	}
	result, err := s.database.Collection(name).DeleteOne(ctx, idFilter(id))
	if err != nil {
		return translate(http.MethodDelete, name, err)
	}
	if result.DeletedCount == 0 {
		return statusError(http.MethodDelete, name+"/"+id, http.StatusNotFound, "Not found")
	}
	return nil
}

func translate(method, collection string, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", method, collection, err)
	case mongo.IsDuplicateKeyError(err):
		status = http.StatusConflict
	case isWriteError(err):
		status = http.StatusBadRequest
	default:
		return fmt.Errorf("%s %s: %w", method, collection, err)
	}
	return &backend.StatusError{
		Method: method,
		Path:   "/" + collection,
		Status: status,
		Body:   map[string]any{"detail": err.Error()},
	}
}

func isWriteError(err error) bool {
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return true
	}
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr)
}

func statusError(method, path string, status int, detail string) error {
	return &backend.StatusError{
		Method: method,
		Path:   "/" + path,
		Status: status,
		Body:   map[string]any{"detail": detail},
	}
}

// MaskURI hides the credentials of a connection string for logging.
func MaskURI(uri string) string {
	if strings.Contains(uri, "@") {
		parts := strings.SplitN(uri, "@", 2)
		if len(parts) == 2 {
			prefix := parts[0]
			if strings.Contains(prefix, "://") {
				schemeParts := strings.SplitN(prefix, "://", 2)
				if len(schemeParts) == 2 {
					return schemeParts[0] + "://***:***@" + parts[1]
				}
			}
		}
	}
	return uri
}
