package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/loquahq/loqua/internal/config"
)

// Point is one embedded fact ready for upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Store persists embedded facts. Satisfied by QdrantStore.
type Store interface {
	Upsert(ctx context.Context, points []Point) error
}

// QdrantStore writes fact vectors to a qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

func NewQdrantStore(log *slog.Logger, cfg config.QdrantConfig) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant addr %q: %w", cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant port %q: %w", portStr, err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		logger:     log.With(slog.String("service", "qdrant")),
	}, nil
}

// EnsureCollection creates the fact collection when it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimensions int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	s.logger.Info("created qdrant collection", slog.String("collection", s.collection), slog.Int("dimensions", dimensions))
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(structs), err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
