package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"expedients/internal/expedient/models"
	"expedients/pkg/platform/sentinel"
)

var redisOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "expedients_redis_store_duration_ms",
	Help:    "Latency of redis expedient store operations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
}, []string{"op"})

const (
	// expedient:<id> holds the JSON record
	recordKeyPrefix = "expedient:"
	// sorted set of ids scored by insertion sequence, gives FindAll its order
	indexKey = "expedients:index"
	// counter handing out insertion sequence numbers
	seqKey = "expedients:seq"
)

// Redis stores each expedient as a JSON string and keeps an insertion-ordered
// index in a sorted set. Scores come from an INCR counter rather than
// timestamps: float64 scores cannot tell apart nanosecond timestamps.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Save(ctx context.Context, e *models.Expedient) error {
	defer observe("save", time.Now())

	body, err := json.Marshal(e.Snapshot())
	if err != nil {
		return fmt.Errorf("encode expedient: %w", err)
	}
	seq, err := s.sequenceFor(ctx, e.ID)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, recordKeyPrefix+e.ID, body, 0)
		if seq > 0 {
			// NX keeps the first sequence if two saves of a new id race
			p.ZAddNX(ctx, indexKey, redis.Z{Score: float64(seq), Member: e.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save expedient: %w", err)
	}
	return nil
}

// sequenceFor returns a fresh insertion sequence for ids not yet indexed and
// 0 for ids already in the index.
func (s *Redis) sequenceFor(ctx context.Context, id string) (int64, error) {
	err := s.client.ZScore(ctx, indexKey, id).Err()
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read expedient index: %w", err)
	}
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("next expedient sequence: %w", err)
	}
	return seq, nil
}

func (s *Redis) FindByID(ctx context.Context, id string) (*models.Expedient, error) {
	defer observe("find_by_id", time.Now())

	body, err := s.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find expedient: %w", err)
	}
	return decode(body)
}

func (s *Redis) FindAll(ctx context.Context) ([]*models.Expedient, error) {
	defer observe("find_all", time.Now())

	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list expedient ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Expedient{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expedients: %w", err)
	}
	out := make([]*models.Expedient, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		e, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, recordKeyPrefix+id)
		p.ZRem(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete expedient: %w", err)
	}
	if del.Val() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func decode(body []byte) (*models.Expedient, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode expedient: %w", err)
	}
	status, err := models.ParseStatus(string(snap.Status))
	if err != nil {
		return nil, err
	}
	return models.Rehydrate(snap.ID, snap.Title, snap.Description, snap.Completed,
		status, snap.CreatedAt, snap.UpdatedAt)
}

func observe(op string, start time.Time) {
	redisOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
