package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DELIVERY_LIMIT", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.LikesCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.RequeueDelay)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.DeliveryLimit)
}

func TestLoadClampsDeliveryLimit(t *testing.T) {
	t.Setenv("DELIVERY_LIMIT", "5000")
	assert.Equal(t, MaxDeliveryLimit, Load().DeliveryLimit)

	t.Setenv("DELIVERY_LIMIT", "-3")
	assert.Equal(t, MinDeliveryLimit, Load().DeliveryLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LIKES_CACHE_TTL_SEC", "60")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("MAIL_RATE_PER_SEC", "0.5")
	t.Setenv("PUBLIC_BASE_URL", "https://music.example.com/")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.LikesCacheTTL)
	assert.Equal(t, StorageS3, cfg.Storage.Backend)
	assert.True(t, cfg.Storage.S3UseSSL)
	assert.Equal(t, 0.5, cfg.SMTP.RatePerSec)
	assert.Equal(t, "https://music.example.com", cfg.Storage.PublicBaseURL)
}

func TestUnknownStorageBackendFallsBackToLocal(t *testing.T) {
	assert.Equal(t, StorageLocal, resolveStorageBackend("gcs"))
}
