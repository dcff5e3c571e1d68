package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCfgDefaults(t *testing.T) {
	cfg := NewCfg()
	assert.Equal(t, 16384, cfg.InnodbPageSize)
	assert.Equal(t, "all", cfg.InnodbChangeBuffering)
	assert.Equal(t, 25, cfg.InnodbChangeBufferMaxSize)
	assert.False(t, cfg.InnodbReadOnly)
	require.NoError(t, cfg.Validate())
}

func TestCfgLoad(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "my.ini")
	content := `[mysqld]
datadir = /tmp/ibuf-data
innodb_page_size = 8192
innodb_change_buffering = inserts
innodb_change_buffer_max_size = 10
innodb_read_only = 1
`
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0644))

	cfg := NewCfg()
	require.NoError(t, cfg.Load(iniPath))

	assert.Equal(t, "/tmp/ibuf-data", cfg.DataDir)
	assert.Equal(t, 8192, cfg.InnodbPageSize)
	assert.Equal(t, "inserts", cfg.InnodbChangeBuffering)
	assert.Equal(t, 10, cfg.InnodbChangeBufferMaxSize)
	assert.True(t, cfg.InnodbReadOnly)
}

func TestCfgValidate(t *testing.T) {
	t.Run("页面大小必须为2的幂", func(t *testing.T) {
		cfg := NewCfg()
		cfg.InnodbPageSize = 10000
		assert.Error(t, cfg.Validate())
	})

	t.Run("非法的change_buffering模式", func(t *testing.T) {
		cfg := NewCfg()
		cfg.InnodbChangeBuffering = "sometimes"
		assert.Error(t, cfg.Validate())
	})

	t.Run("max_size超出范围", func(t *testing.T) {
		cfg := NewCfg()
		cfg.InnodbChangeBufferMaxSize = 80
		assert.Error(t, cfg.Validate())
	})
}
