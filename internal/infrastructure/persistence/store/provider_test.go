package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalligram-api/internal/config"
	"kalligram-api/internal/domain/repository"
	"kalligram-api/pkg/errors"
)

func TestProvider_MissingSupabaseCredentials(t *testing.T) {
	p := NewProvider(&config.Config{Store: config.StoreConfig{Driver: "supabase"}})

	reader, err := p.Reader(context.Background())
	assert.Nil(t, reader)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeAuthConfig))
}

func TestProvider_MissingPostgresHost(t *testing.T) {
	p := NewProvider(&config.Config{Store: config.StoreConfig{Driver: "postgres"}})

	_, err := p.Reader(context.Background())
	assert.True(t, errors.HasCode(err, errors.CodeAuthConfig))
}

func TestProvider_SupabaseReader(t *testing.T) {
	p := NewProvider(&config.Config{
		Store:    config.StoreConfig{Driver: "supabase"},
		Supabase: config.SupabaseConfig{URL: "http://127.0.0.1:1", ServiceKey: "k"},
	})

	reader, err := p.Reader(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, reader)
}

func TestProvider_InitializesOnce(t *testing.T) {
	calls := 0
	p := NewProviderWithFactory(func() (repository.StoryReader, func(), error) {
		calls++
		return nil, nil, errors.New(errors.CodeAuthConfig, "missing")
	})

	for i := 0; i < 3; i++ {
		_, err := p.Reader(context.Background())
		assert.Error(t, err)
	}
	assert.Equal(t, 1, calls)
	assert.Error(t, p.HealthCheck(context.Background()))
	p.Close()
}
