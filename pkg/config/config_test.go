package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Server struct {
		Addr    string        `mapstructure:"addr"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"server"`
	Enabled bool `mapstructure:"enabled"`
}

func TestLoadConfig_Local(t *testing.T) {
	t.Setenv("CONFIG_MODE", "")
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8000\"\n  timeout: 30s\nenabled: true\n"), 0o600))

	m := NewManager(log.DefaultLogger)
	require.NoError(t, m.LoadConfig(path, "token-router"))
	defer m.Close()
	assert.Equal(t, ModeLocal, m.GetMode())

	var cfg sample
	require.NoError(t, m.Unmarshal(&cfg))
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.True(t, cfg.Enabled)
}

func TestLoadConfig_UnknownMode(t *testing.T) {
	t.Setenv("CONFIG_MODE", "etcd")
	err := NewManager(log.DefaultLogger).LoadConfig("unused.yaml", "token-router")
	assert.Error(t, err)
}

func TestNacosConfigDefaults(t *testing.T) {
	t.Setenv("NACOS_DATA_ID", "")
	t.Setenv("NACOS_GROUP", "")
	c := &NacosConfig{ServerAddr: "nacos"}
	c.applyEnv("token-router")
	assert.Equal(t, "token-router.yaml", c.DataID)
	assert.Equal(t, "DEFAULT_GROUP", c.Group)
	assert.Equal(t, uint64(8848), c.ServerPort)
	assert.Equal(t, uint64(5000), c.TimeoutMs)
}
