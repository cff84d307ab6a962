package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/domain/repository/repotest"
	"kalligram-api/internal/infrastructure/persistence/redis"
)

func newStore(profiles map[string]*entity.Profile) (*repotest.Store, *repotest.FakeReader) {
	reader := &repotest.FakeReader{Profiles: profiles}
	return &repotest.Store{Backend: reader}, reader
}

func TestDisplayName_Fallbacks(t *testing.T) {
	store, _ := newStore(map[string]*entity.Profile{
		"u1": {ID: "u1", Name: "Jules"},
		"u2": {ID: "u2", Name: "  "},
	})
	r := NewResolver(store, nil, 0)
	ctx := context.Background()

	assert.Equal(t, "Jules", r.DisplayName(ctx, "u1", "jules@example.com"))
	assert.Equal(t, "writer", r.DisplayName(ctx, "u2", "writer@example.com"))
	assert.Equal(t, "ghost", r.DisplayName(ctx, "u3", "ghost@example.com"))
	assert.Equal(t, DefaultName, r.DisplayName(ctx, "u3", ""))
	assert.Equal(t, DefaultName, r.DisplayName(ctx, "", "anon@example.com"))
}

func TestDisplayName_StoreUnavailable(t *testing.T) {
	r := NewResolver(&repotest.Store{Err: errors.New("no credentials")}, nil, 0)

	assert.Equal(t, "kai", r.DisplayName(context.Background(), "u1", "kai@example.com"))
}

func TestDisplayName_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redis.NewCache(redis.NewClientFromRedis(rdb))

	store, reader := newStore(map[string]*entity.Profile{"u1": {ID: "u1", Name: "Jules"}})
	r := NewResolver(store, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, "Jules", r.DisplayName(ctx, "u1", ""))
	}
	assert.Equal(t, 1, reader.Calls("GetProfile"))

	require.True(t, mr.Exists("kalligram:"+redis.ProfileKey("u1")))
}

func TestEmailPrefix(t *testing.T) {
	assert.Equal(t, "ada", EmailPrefix("ada@lovelace.dev"))
	assert.Equal(t, "", EmailPrefix(""))
	assert.Equal(t, "plain", EmailPrefix("plain"))
}
