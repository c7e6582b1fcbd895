package sink

import (
	"context"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/genretree/pkg/cache"
	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "genretree"
	DefaultMongoCollection = "trees"
)

// MongoConfig locates the collection runs are written to.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

func (c *MongoConfig) setDefaults() {
	if c.Database == "" {
		c.Database = DefaultMongoDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultMongoCollection
	}
}

// replacer is the subset of *mongo.Collection the sink uses.
type replacer interface {
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// Mongo upserts one document per run. Adjacency is stored as an array of
// {genre, children} entries so genre names never become field names.
type Mongo struct {
	client     *mongo.Client
	coll       replacer
	logger     *log.Logger
	retryDelay time.Duration // zero uses the cache default
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, cfg MongoConfig, logger *log.Logger) (*Mongo, error) {
	if err := gterrors.ValidateURI(cfg.URI, "mongodb", "mongodb+srv"); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, gterrors.Wrap(gterrors.ErrCodeInvalidConfig, err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, gterrors.Wrap(gterrors.ErrCodeNetwork, err, "ping mongodb")
	}

	return &Mongo{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}, nil
}

// Name implements Sink.
func (m *Mongo) Name() string { return "mongodb" }

// Write implements Sink.
func (m *Mongo) Write(ctx context.Context, run Run) error {
	doc := newTreeDocument(run)
	err := cache.RetryWithDelay(ctx, m.retryDelay, func() error {
		_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
		if err != nil && (mongo.IsNetworkError(err) || mongo.IsTimeout(err)) {
			m.logger.Warn("mongodb write failed, retrying", "run", run.ID, "err", err)
			return cache.Retryable(err)
		}
		return err
	})
	if err != nil {
		return gterrors.Wrap(gterrors.ErrCodeStorage, err, "upsert run %s", run.ID)
	}
	m.logger.Debug("stored run in mongodb", "run", run.ID, "genres", len(doc.Ranks))
	return nil
}

// Close implements Sink.
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

type treeDocument struct {
	ID        string       `bson:"_id"`
	CreatedAt time.Time    `bson:"created_at"`
	Roots     []string     `bson:"roots"`
	TopK      int          `bson:"top_k"`
	Order     []string     `bson:"nodes_bfs_order"`
	Adjacency []genreEntry `bson:"adjacency_list"`
	Ranks     []genreRank  `bson:"genre_ranks"`
}

type genreEntry struct {
	Genre    string   `bson:"genre"`
	Children []string `bson:"children"`
}

type genreRank struct {
	Genre string `bson:"genre"`
	Rank  int    `bson:"rank"`
}

// newTreeDocument flattens run into a document. Map-valued record fields
// become arrays sorted by genre.
func newTreeDocument(run Run) treeDocument {
	rec := run.Record
	doc := treeDocument{
		ID:        run.ID,
		CreatedAt: run.CreatedAt.UTC(),
		Roots:     slices.Clone(run.Roots),
		TopK:      run.TopK,
		Order:     slices.Clone(rec.NodesBFSOrder),
		Adjacency: make([]genreEntry, 0, len(rec.AdjacencyList)),
		Ranks:     make([]genreRank, 0, len(rec.GenreRanks)),
	}
	if doc.Roots == nil {
		doc.Roots = []string{}
	}
	if doc.Order == nil {
		doc.Order = []string{}
	}
	for _, g := range sortedKeys(rec.AdjacencyList) {
		c := slices.Clone(rec.AdjacencyList[g])
		if c == nil {
			c = []string{}
		}
		doc.Adjacency = append(doc.Adjacency, genreEntry{Genre: g, Children: c})
	}
	for _, g := range sortedKeys(rec.GenreRanks) {
		doc.Ranks = append(doc.Ranks, genreRank{Genre: g, Rank: rec.GenreRanks[g]})
	}
	return doc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ Sink = (*Mongo)(nil)
