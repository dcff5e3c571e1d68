package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-ibuf/server/common"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-ibuf/server/innodb/storage/store/pages"
)

const testPageSize = 1024

func TestSpacePageIO(t *testing.T) {
	dir := t.TempDir()
	space, err := NewSpace(dir, "t1", 7, testPageSize, 0)
	require.NoError(t, err)
	defer space.Close()

	no, err := space.AllocatePage(common.FILE_PAGE_INDEX)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), no)
	assert.Equal(t, uint32(1), space.PageCount())

	t.Run("写读往返", func(t *testing.T) {
		p := pages.NewAbstractPage(testPageSize, 7, 0, common.FILE_PAGE_INDEX)
		copy(p.Body(), []byte("hello page"))
		require.NoError(t, space.WritePage(0, p.Content))

		content, err := space.ReadPage(0)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(content[pages.FileHeaderSize:], []byte("hello page")))
	})

	t.Run("越界页号", func(t *testing.T) {
		_, err := space.ReadPage(5)
		assert.Equal(t, basic.ErrPageNotFound, err)
	})

	t.Run("文件被篡改后读取拒绝", func(t *testing.T) {
		// 绕过WritePage直接改坏文件里的页面体
		f, err := os.OpenFile(filepath.Join(dir, "t1.ibd"), os.O_RDWR, 0644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{0xFF}, int64(pages.FileHeaderSize+3))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = space.ReadPage(0)
		require.Error(t, err)
		assert.Equal(t, basic.ErrPageCorrupted, errors.Cause(err))
	})
}

func TestCompressedSpace(t *testing.T) {
	dir := t.TempDir()
	space, err := NewSpace(dir, "t2", 8, testPageSize, 512)
	require.NoError(t, err)
	defer space.Close()

	_, err = space.AllocatePage(common.FILE_PAGE_INDEX)
	require.NoError(t, err)

	t.Run("可压缩内容", func(t *testing.T) {
		p := pages.NewAbstractPage(testPageSize, 8, 0, common.FILE_PAGE_INDEX)
		body := p.Body()
		for i := range body {
			body[i] = 'A' // 高度可压缩
		}
		require.NoError(t, space.WritePage(0, p.Content))

		content, err := space.ReadPage(0)
		require.NoError(t, err)
		assert.Equal(t, byte('A'), content[pages.FileHeaderSize])
		assert.Equal(t, testPageSize, len(content))
	})

	t.Run("不可压缩内容走原样存储", func(t *testing.T) {
		p := pages.NewAbstractPage(testPageSize, 8, 0, common.FILE_PAGE_INDEX)
		body := p.Body()
		seed := uint32(0x9E3779B9)
		for i := range body {
			seed = seed*1664525 + 1013904223
			body[i] = byte(seed >> 24)
		}
		require.NoError(t, space.WritePage(0, p.Content))

		content, err := space.ReadPage(0)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(p.Content[pages.FileHeaderSize:], content[pages.FileHeaderSize:]))
	})
}
