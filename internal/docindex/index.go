package docindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for the Qdrant instance backing the
// documentation index.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Document is one indexed documentation page.
type Document struct {
	ID      string
	Title   string
	URL     string
	Source  string
	Content string
}

// Hit is one search result with its similarity score.
type Hit struct {
	Document
	Score float32
}

// Index is a Qdrant-backed documentation search index.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	embedder    EmbeddingProvider
	collection  string
	logger      *zap.Logger
}

// Open dials Qdrant and ensures the documentation collection exists.
func Open(ctx context.Context, cfg Config, embedder EmbeddingProvider, logger *zap.Logger) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	if cfg.Collection == "" {
		cfg.Collection = "bugsmith-docs"
	}
	idx := &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		embedder:    embedder,
		collection:  cfg.Collection,
		logger:      logger,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	_, err := idx.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: idx.collection})
	if err == nil {
		return nil
	}
	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(idx.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", idx.collection, err)
	}
	idx.logger.Info("created documentation collection",
		zap.String("collection", idx.collection),
		zap.Int("dimension", idx.embedder.Dimension()))
	return nil
}

// Add embeds and upserts a document into the index.
func (idx *Index) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	vectors, err := idx.embedder.Embed(ctx, []string{doc.Title + "\n" + doc.Content})
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return fmt.Errorf("docindex: empty embedding for %q", doc.Title)
	}

	wait := true
	_, err = idx.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: doc.ID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[0]}}},
				Payload: map[string]*pb.Value{
					"title":  {Kind: &pb.Value_StringValue{StringValue: doc.Title}},
					"url":    {Kind: &pb.Value_StringValue{StringValue: doc.URL}},
					"source": {Kind: &pb.Value_StringValue{StringValue: doc.Source}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Query embeds the query text and returns the top-K nearest documents.
func (idx *Index) Query(ctx context.Context, query string, topK uint64) ([]Hit, error) {
	vectors, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("docindex: empty embedding for query")
	}

	resp, err := idx.points.Search(ctx, &pb.SearchPoints{
		CollectionName: idx.collection,
		Vector:         vectors[0],
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", idx.collection, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := Hit{Score: r.Score}
		hit.ID = r.Id.GetUuid()
		for k, v := range r.Payload {
			sv, ok := v.Kind.(*pb.Value_StringValue)
			if !ok {
				continue
			}
			switch k {
			case "title":
				hit.Title = sv.StringValue
			case "url":
				hit.URL = sv.StringValue
			case "source":
				hit.Source = sv.StringValue
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close tears down the gRPC connection.
func (idx *Index) Close() error {
	return idx.conn.Close()
}
