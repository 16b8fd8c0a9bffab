package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the optional second-level cache settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "embedstar:emb:"
}

// Redis is the shared L2 level. Entries are little-endian float32 blobs
// with a model-name header so any instance can decode them.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects a Redis-backed level.
func NewRedis(cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "embedstar:emb:"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

func (r *Redis) key(k string) string { return r.prefix + k }

// Get fetches and decodes one entry. ErrNotFound on miss.
func (r *Redis) Get(ctx context.Context, key string) ([]float32, string, error) {
	blob, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return decodeEntry(blob)
}

// Set encodes and stores one entry with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, vector []float32, model string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), encodeEntry(vector, model), ttl).Err()
}

// Delete removes one entry.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Ping checks the server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// encodeEntry lays out: uint16 model length, model bytes, then the vector
// as little-endian float32 words.
func encodeEntry(vector []float32, model string) []byte {
	buf := make([]byte, 2+len(model)+4*len(vector))
	binary.LittleEndian.PutUint16(buf, uint16(len(model)))
	copy(buf[2:], model)
	off := 2 + len(model)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[off+4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEntry(blob []byte) ([]float32, string, error) {
	if len(blob) < 2 {
		return nil, "", fmt.Errorf("cache entry too short: %d bytes", len(blob))
	}
	mlen := int(binary.LittleEndian.Uint16(blob))
	if len(blob) < 2+mlen {
		return nil, "", fmt.Errorf("cache entry truncated model header")
	}
	model := string(blob[2 : 2+mlen])

	rest := blob[2+mlen:]
	if len(rest)%4 != 0 {
		return nil, "", fmt.Errorf("cache entry vector length %d not word-aligned", len(rest))
	}
	vector := make([]float32, len(rest)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[4*i:]))
	}
	return vector, model, nil
}
