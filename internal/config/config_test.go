package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":8080", v.GetString("listen"))
	assert.Equal(t, "info", v.GetString("log_level"))
	assert.False(t, v.GetBool("enable_tls"))
}

func TestSetDefaults_Cache(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "memory", v.GetString("cache.backend"))
	assert.Equal(t, 4096, v.GetInt("cache.size"))
	assert.Equal(t, "localhost:6379", v.GetString("cache.redis_addr"))
	assert.Equal(t, 0, v.GetInt("cache.redis_db"))
}

func TestSetDefaults_Access(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.False(t, v.GetBool("access.lock_recursive"))
	assert.False(t, v.GetBool("access.authors_has_access_to_own"))
	assert.False(t, v.GetBool("access.authors_can_add_posts_to_groups"))
	assert.Equal(t, "administrator", v.GetString("access.full_access_role"))
}

func TestSetDefaults_Metrics(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.True(t, v.GetBool("metrics.enable"))
	assert.Equal(t, "/metrics", v.GetString("metrics.path"))
}

func TestValidateRequiresDataDir(t *testing.T) {
	cfg := Config{Cache: CacheConfig{Backend: "memory"}}
	err := validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir is required")
}

func TestValidateCreatesDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "guard")
	cfg := Config{DataDir: dataDir, Cache: CacheConfig{Backend: "memory"}}

	require.NoError(t, validate(&cfg))
	assert.DirExists(t, filepath.Join(dataDir, "db"))
	assert.Equal(t, filepath.Join(dataDir, "db", "contentguard.db"), cfg.DatabasePath())
}

func TestValidateCacheBackend(t *testing.T) {
	tests := []struct {
		name    string
		cache   CacheConfig
		wantErr bool
	}{
		{"memory", CacheConfig{Backend: "memory", Size: 100}, false},
		{"none", CacheConfig{Backend: "none"}, false},
		{"redis", CacheConfig{Backend: "redis", RedisAddr: "localhost:6379"}, false},
		{"redis without addr", CacheConfig{Backend: "redis"}, true},
		{"unknown backend", CacheConfig{Backend: "memcached"}, true},
		{"negative size", CacheConfig{Backend: "memory", Size: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{DataDir: t.TempDir(), Cache: tt.cache}
			err := validate(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTLS(t *testing.T) {
	cfg := Config{
		DataDir:   t.TempDir(),
		Cache:     CacheConfig{Backend: "memory"},
		EnableTLS: true,
	}
	err := validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS enabled")

	cfg.CertFile = "/path/to/cert.pem"
	cfg.KeyFile = "/path/to/key.pem"
	assert.NoError(t, validate(&cfg))
}

func TestAccessConfig_Struct(t *testing.T) {
	cfg := AccessConfig{
		LockRecursive:              true,
		AuthorsHasAccessToOwn:      true,
		AuthorsCanAddPostsToGroups: true,
		FullAccessRole:             "editor",
	}

	assert.True(t, cfg.LockRecursive)
	assert.True(t, cfg.AuthorsHasAccessToOwn)
	assert.True(t, cfg.AuthorsCanAddPostsToGroups)
	assert.Equal(t, "editor", cfg.FullAccessRole)
}
