package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// CollKnowledge is the single collection indexing knowledge item raw text.
const CollKnowledge = "knowledge_items"

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Index wraps the Qdrant gRPC services used for semantic knowledge lookup.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewIndex dials the Qdrant gRPC endpoint.
func NewIndex(cfg Config) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// Init creates the knowledge collection if it does not already exist.
func (x *Index) Init(ctx context.Context, dimension uint64) error {
	_, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: CollKnowledge})
	if err == nil {
		return nil
	}
	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: CollKnowledge,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", CollKnowledge, err)
	}
	return nil
}

// UpsertItem indexes one knowledge item's vector, keyed by its item id so a
// re-ingest overwrites rather than duplicates.
func (x *Index) UpsertItem(ctx context.Context, itemID string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: CollKnowledge,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: itemID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	return err
}

// Hit is one semantic search result.
type Hit struct {
	ItemID string
	Score  float32
}

// Search returns the nearest knowledge items for a query vector.
func (x *Index) Search(ctx context.Context, vector []float32, topK uint64) ([]Hit, error) {
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: CollKnowledge,
		Vector:         vector,
		Limit:          topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", CollKnowledge, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{ItemID: r.Id.GetUuid(), Score: r.Score})
	}
	return hits, nil
}

// Close tears down the gRPC connection.
func (x *Index) Close() error {
	return x.conn.Close()
}
