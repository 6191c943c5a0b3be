package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0644))
}

func TestLoadConfigVideoService(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PG_PASSWORD", "secret")

	// ${} 占位符要吃環境變數
	writeYAML(t, dir, "video_service", `
port: "8080"
ip: "0.0.0.0"
pg:
  host: "localhost"
  port: 5432
  user: "video"
  password: "${PG_PASSWORD}"
  database: "videodb"
  retry_count: 3
redis:
  redis_db: 1
queue:
  backend: "postgres"
  name: "video_processing"
  visibility_timeout: 30
  max_attempts: 3
  retry_base_delay: 5
search:
  use_index: true
  index_name: "videos"
video:
  allowed_mime_types:
    - "video/mp4"
    - "video/quicktime"
  max_size: 1073741824
rate_limit:
  limit: 100
  window_ms: 60000
`)

	cfg := LoadConfig[VideoService]("video_service", dir)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "secret", cfg.PostgreSQL.Password)
	assert.Equal(t, "videodb", cfg.PostgreSQL.Database)
	assert.Equal(t, 1, cfg.Redis.RedisDB)
	assert.Equal(t, "postgres", cfg.Queue.Backend)
	assert.Equal(t, 30, cfg.Queue.VisibilityTimeout)
	assert.True(t, cfg.Search.UseIndex)
	assert.Equal(t, []string{"video/mp4", "video/quicktime"}, cfg.Video.AllowedMimeTypes)
	assert.Equal(t, 100, cfg.RateLimit.Limit)
	assert.Equal(t, 60000, cfg.RateLimit.WindowMs)
}

func TestLoadConfigWorker(t *testing.T) {
	dir := t.TempDir()

	writeYAML(t, dir, "processing_worker", `
pg:
  host: "localhost"
  port: 5432
redis:
  redis_db: 2
queue:
  backend: "rabbitmq"
  name: "video_processing"
  retry_base_delay: 5
poll_interval: 5
output_base_dir: "/var/lib/worker"
`)

	cfg := LoadConfig[Worker]("processing_worker", dir)

	assert.Equal(t, 2, cfg.Redis.RedisDB)
	assert.Equal(t, "rabbitmq", cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.PollInterval)
	assert.Equal(t, "/var/lib/worker", cfg.OutputBaseDir)
}

func TestGetRedisSetting(t *testing.T) {
	t.Setenv("REDIS_MASTER_NAME", "video-master")
	t.Setenv("REDIS_SENTINEL1_IP", "10.0.0.1")
	t.Setenv("REDIS_SENTINEL1_PORT", "26379")
	t.Setenv("REDIS_SENTINEL2_IP", "10.0.0.2")
	t.Setenv("REDIS_SENTINEL2_PORT", "26379")

	masterName, addrs := GetRedisSetting()

	assert.Equal(t, "video-master", masterName)
	assert.ElementsMatch(t, []string{"10.0.0.1:26379", "10.0.0.2:26379"}, addrs)
}
