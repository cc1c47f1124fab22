package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/deepauras/auroraflow/core"
)

// RedisStore implements Store over go-redis/redis/v8. Each document is
// stored as a JSON string under {prefix}:{collection}:{key}, matching the
// teacher's RedisTaskStore key-naming convention. Conditional updates use
// WATCH/MULTI so a concurrent writer's interleaved change aborts the
// transaction rather than being silently overwritten (orchestration's own
// RedisTaskStore only demonstrates SetNX-for-create and a plain
// check-then-overwrite Update; this extends that idiom with the
// compare-and-swap go-redis/v8 already natively supports).
type RedisStore struct {
	client *redis.Client
	config *Config
	logger core.Logger
}

// NewRedisStore constructs a RedisStore. client should already be
// connected.
func NewRedisStore(client *redis.Client, config *Config, logger core.Logger) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("docstore")
	}
	return &RedisStore{client: client, config: config, logger: logger}
}

func (s *RedisStore) key(collection, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.config.KeyPrefix, collection, key)
}

func (s *RedisStore) Get(ctx context.Context, collection, key string, out interface{}) error {
	data, err := s.client.Get(ctx, s.key(collection, key)).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: get %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *RedisStore) Put(ctx context.Context, collection, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	if err := s.client.Set(ctx, s.key(collection, key), data, 0).Err(); err != nil {
		return fmt.Errorf("docstore: put %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *RedisStore) CreateUnique(ctx context.Context, collection, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	set, err := s.client.SetNX(ctx, s.key(collection, key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("docstore: create %s/%s: %w", collection, key, err)
	}
	if !set {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.client.Del(ctx, s.key(collection, key)).Err(); err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// UpdateConditional implements the spec's "transactional single-document
// updates" requirement via Redis's optimistic-locking WATCH primitive:
// watch the key, decode its current value, let mutate decide the field
// ops against that exact snapshot, then apply them inside MULTI/EXEC. If
// another client wrote the key between WATCH and EXEC, go-redis surfaces
// redis.TxFailedErr and we retry from a fresh read, up to
// MaxOptimisticRetries times.
func (s *RedisStore) UpdateConditional(ctx context.Context, collection, key string, mutate func(current map[string]interface{}) ([]FieldOp, error)) error {
	fullKey := s.key(collection, key)

	for attempt := 0; attempt < s.config.MaxOptimisticRetries; attempt++ {
		txf := func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, fullKey).Result()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			current := map[string]interface{}{}
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("docstore: decode %s/%s: %w", collection, key, err)
			}

			ops, err := mutate(current)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				return nil
			}
			applyFieldOps(current, ops)

			updated, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, fullKey, updated, 0)
				return nil
			})
			return err
		}

		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("docstore: update %s/%s: %w", collection, key, err)
	}

	return ErrConditionFailed
}

// applyFieldOps mutates doc in place per the requested operators.
func applyFieldOps(doc map[string]interface{}, ops []FieldOp) {
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			doc[op.Field] = op.Value
		case OpIncrement:
			delta, _ := toFloat64(op.Value)
			existing, _ := toFloat64(doc[op.Field])
			doc[op.Field] = existing + delta
		case OpArrayUnion:
			arr, _ := doc[op.Field].([]interface{})
			if !containsValue(arr, op.Value) {
				doc[op.Field] = append(arr, op.Value)
			}
		}
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, e := range arr {
		if e == v {
			return true
		}
	}
	return false
}

// VectorSearch scans every document in q.Collection, skipping any that
// fail a pre-filter predicate or lack q.Field, scores the rest by cosine
// similarity, and returns the top q.K. There is no ecosystem vector index
// in this codebase's dependency lineage, so the scan (not the storage
// format) is the deliberately chosen stdlib-only piece here; see
// DESIGN.md.
func (s *RedisStore) VectorSearch(ctx context.Context, q VectorQuery) ([]ScoredDocument, error) {
	candidates, err := s.scanFiltered(ctx, q.Collection, q.Filters, func(doc map[string]interface{}) (float64, bool) {
		vec, ok := extractVector(doc[q.Field])
		if !ok || len(vec) != len(q.Vector) {
			return 0, false
		}
		return cosineSimilarity(q.Vector, vec), true
	})
	if err != nil {
		return nil, err
	}

	sortByScoreDesc(candidates)
	if q.K > 0 && len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	return candidates, nil
}

// List scans collection applying filters only, with no distance scoring;
// every match is returned in scan order with Score left at zero.
func (s *RedisStore) List(ctx context.Context, collection string, filters []Predicate) ([]ScoredDocument, error) {
	return s.scanFiltered(ctx, collection, filters, func(doc map[string]interface{}) (float64, bool) {
		return 0, true
	})
}

// scanFiltered is the shared SCAN+MGET walk behind VectorSearch and List:
// decode every document in collection, drop ones failing filters, and let
// score decide per-document inclusion/ranking.
func (s *RedisStore) scanFiltered(ctx context.Context, collection string, filters []Predicate, score func(doc map[string]interface{}) (float64, bool)) ([]ScoredDocument, error) {
	pattern := s.key(collection, "*")
	var cursor uint64
	var candidates []ScoredDocument

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", collection, err)
		}
		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("docstore: mget %s: %w", collection, err)
			}
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				doc := map[string]interface{}{}
				if err := json.Unmarshal([]byte(raw), &doc); err != nil {
					continue
				}
				if !matchesFilters(doc, filters) {
					continue
				}
				docScore, ok := score(doc)
				if !ok {
					continue
				}
				candidates = append(candidates, ScoredDocument{
					Key:      strings.TrimPrefix(keys[i], s.key(collection, "")),
					Document: doc,
					Score:    docScore,
				})
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return candidates, nil
}

func matchesFilters(doc map[string]interface{}, filters []Predicate) bool {
	for _, f := range filters {
		v, ok := lookupPath(doc, f.Field)
		if !ok || v != f.Equals {
			return false
		}
	}
	return true
}

func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func extractVector(v interface{}) ([]float32, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]float32, len(arr))
	for i, e := range arr {
		f, ok := toFloat64(e)
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortByScoreDesc(docs []ScoredDocument) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docs[j].Score > docs[j-1].Score; j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}
