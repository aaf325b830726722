package store

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"multirag/internal/domain"
	"multirag/internal/port"
)

// QdrantConfig describes how to reach a Qdrant server over gRPC.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Wait makes upserts block until the write is applied.
	Wait bool
}

// QdrantStore is the production VectorStore, talking to Qdrant's gRPC API.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	wait        bool
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}

	return &QdrantStore{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		wait:        cfg.Wait,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension int, distance port.Distance) error {
	list, err := s.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range list.GetCollections() {
		if col.GetName() != name {
			continue
		}
		info, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
		if err != nil {
			return fmt.Errorf("failed to get collection %s: %w", name, err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if int(size) != dimension {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, size, dimension)
		}
		return nil
	}

	_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrantDistance(distance),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	// Keyword index keeps recipe-filtered searches cheap.
	fieldType := qdrant.FieldType_FieldTypeKeyword
	wait := true
	_, err = s.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      port.PayloadRecipeKey,
		FieldType:      &fieldType,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to index %s payload field: %w", port.PayloadRecipeKey, err)
	}
	return nil
}

// qdrantDistance maps a port distance to Qdrant's enum. Cosine is the only
// metric passages are compared with.
func qdrantDistance(port.Distance) qdrant.Distance {
	return qdrant.Distance_Cosine
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(passages))
	for i, p := range passages {
		points[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: toQdrantPayload(p.Payload),
		}
	}

	wait := s.wait
	_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, collection string, req port.SearchRequest) ([]domain.SearchHit, error) {
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         req.Vector,
		Limit:          uint64(req.Limit),
		Filter:         toQdrantFilter(req.Filter),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: req.WithVector},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		hit := domain.SearchHit{
			ID:        point.GetId().GetUuid(),
			BaseScore: float64(point.GetScore()),
			Payload:   fromQdrantPayload(point.GetPayload()),
		}
		if req.WithVector {
			hit.Vector = point.GetVectors().GetVector().GetData()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string, filter *port.Filter) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func toQdrantFilter(f *port.Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: f.Key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: f.Value},
						},
					},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(n int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(n)}}
}

func toQdrantPayload(p domain.Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"text":          stringValue(p.Text),
		"source":        stringValue(p.SourcePath),
		"recipe":        stringValue(p.RecipeName),
		"chunk_size":    intValue(p.ChunkSize),
		"chunk_overlap": intValue(p.ChunkOverlap),
		"length":        intValue(p.Length),
		"chunk_index":   intValue(p.ChunkIndex),
	}
}

func fromQdrantPayload(m map[string]*qdrant.Value) domain.Payload {
	return domain.Payload{
		Text:         m["text"].GetStringValue(),
		SourcePath:   m["source"].GetStringValue(),
		RecipeName:   m["recipe"].GetStringValue(),
		ChunkSize:    int(m["chunk_size"].GetIntegerValue()),
		ChunkOverlap: int(m["chunk_overlap"].GetIntegerValue()),
		Length:       int(m["length"].GetIntegerValue()),
		ChunkIndex:   int(m["chunk_index"].GetIntegerValue()),
	}
}
