package offlinegw

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

const valkeyConnectTimeout = 5 * time.Second

type ValkeyConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// ValkeyStore shares the cache registry between gateway processes.
//
// Layout under the key prefix:
//
//	caches                    set of cache names
//	cache:<name>:entries      hash key -> JSON response
//	cache:<name>:order        sorted set key -> write sequence
//	seq                       write sequence counter
type ValkeyStore struct {
	inner  valkeylib.Client
	prefix string
}

func OpenValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), valkeyConnectTimeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", valkeyConnectTimeout, err)
	}
	return newValkeyStore(inner, cfg.KeyPrefix), nil
}

func newValkeyStore(inner valkeylib.Client, prefix string) *ValkeyStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyStore{inner: inner, prefix: prefix}
}

func (s *ValkeyStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *ValkeyStore) namesKey() string { return s.key("caches") }

func (s *ValkeyStore) entriesKey(name string) string { return s.key("cache", name, "entries") }

func (s *ValkeyStore) orderKey(name string) string { return s.key("cache", name, "order") }

func (s *ValkeyStore) Open(ctx context.Context, name string) error {
	cmd := s.inner.B().Sadd().Key(s.namesKey()).Member(name).Build()
	if err := s.inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return nil
}

func (s *ValkeyStore) Names(ctx context.Context) ([]string, error) {
	cmd := s.inner.B().Smembers().Key(s.namesKey()).Build()
	names, err := s.inner.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *ValkeyStore) DeleteCache(ctx context.Context, name string) (bool, error) {
	n, err := s.inner.Do(ctx, s.inner.B().Srem().Key(s.namesKey()).Member(name).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	cmd := s.inner.B().Del().Key(s.entriesKey(name), s.orderKey(name)).Build()
	if err := s.inner.Do(ctx, cmd).Error(); err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *ValkeyStore) Match(ctx context.Context, name, key string) (Response, bool, error) {
	cmd := s.inner.B().Hget().Key(s.entriesKey(name)).Field(key).Build()
	data, err := s.inner.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return Response{}, false, nil
		}
		return Response{}, false, fmt.Errorf("failed to match %s: %w", key, err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return resp, true, nil
}

func (s *ValkeyStore) Put(ctx context.Context, name, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	seq, err := s.inner.Do(ctx, s.inner.B().Incr().Key(s.key("seq")).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	// ZADD on an existing member rescores it, which moves it to the end.
	cmds := valkeylib.Commands{
		s.inner.B().Sadd().Key(s.namesKey()).Member(name).Build(),
		s.inner.B().Hset().Key(s.entriesKey(name)).FieldValue().FieldValue(key, string(data)).Build(),
		s.inner.B().Zadd().Key(s.orderKey(name)).ScoreMember().ScoreMember(float64(seq), key).Build(),
	}
	for _, res := range s.inner.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to put %s: %w", key, err)
		}
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, name, key string) (bool, error) {
	cmds := valkeylib.Commands{
		s.inner.B().Hdel().Key(s.entriesKey(name)).Field(key).Build(),
		s.inner.B().Zrem().Key(s.orderKey(name)).Member(key).Build(),
	}
	res := s.inner.DoMulti(ctx, cmds...)
	n, err := res[0].AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if err := res[1].Error(); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *ValkeyStore) Keys(ctx context.Context, name string) ([]string, error) {
	cmd := s.inner.B().Zrange().Key(s.orderKey(name)).Min("0").Max("-1").Build()
	keys, err := s.inner.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", name, err)
	}
	return keys, nil
}

func (s *ValkeyStore) Close() error {
	s.inner.Close()
	return nil
}
