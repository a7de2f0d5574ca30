package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/boardsync/internal/board"
)

func sampleBoard() Board {
	return NewBoard(board.KindTask, "ws_1", "br_1", []board.Entity{
		{ID: "t1", Title: board.StringPtr("Draft"), Status: board.Status{Group: board.GroupTodo}},
		{ID: "t2", Title: board.StringPtr("Ship"), Status: board.Status{Group: board.GroupDone}},
	}, board.Pagination{Page: 1, Limit: 20, Total: 2, TotalPages: 1}, "t1")
}

func TestNewBoardFillsColumns(t *testing.T) {
	b := sampleBoard()
	require.Len(t, b.Columns, 3)
	assert.Equal(t, "t1", b.Columns[0].Entities[0].ID)
	assert.Equal(t, "t2", b.Columns[2].Entities[0].ID)

	empty := NewBoard(board.KindContent, "ws", "br", nil, board.Pagination{}, "")
	assert.NotNil(t, empty.Entities)
	assert.Len(t, empty.Columns, len(board.KindContent.Groups()))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ws_1/br_1/content", Key(board.KindContent, " ws_1", "br_1 "))
}

func TestBuildSinkFromDSNMemory(t *testing.T) {
	sink, err := BuildSinkFromDSN("memory://")
	require.NoError(t, err)
	require.NotNil(t, sink)

	ctx := context.Background()
	missing, err := sink.Load(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, sink.Save(ctx, "k", sampleBoard()))
	loaded, err := sink.Load(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "t1", loaded.Selected)
	assert.Len(t, loaded.Entities, 2)
}

func TestBuildSinkFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boards.json")
	sink, err := BuildSinkFromDSN("file://" + path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Save(ctx, "a", sampleBoard()))
	other := sampleBoard()
	other.BrandID = "br_2"
	require.NoError(t, sink.Save(ctx, "b", other))

	loaded, err := sink.Load(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "br_1", loaded.BrandID)

	loaded, err = sink.Load(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "br_2", loaded.BrandID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestBuildSinkFromDSNBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	sink, err := BuildSinkFromDSN(path)
	require.NoError(t, err)
	fileSink, ok := sink.(*FileSink)
	require.True(t, ok)
	assert.Equal(t, path, fileSink.Path)
}

func TestBuildSinkFromDSNSchemes(t *testing.T) {
	sink, err := BuildSinkFromDSN("")
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = BuildSinkFromDSN("postgres://localhost/boardsync?sslmode=disable")
	require.NoError(t, err)
	assert.IsType(t, &PostgresSink{}, sink)

	sink, err = BuildSinkFromDSN("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisSink{}, sink)
	require.NoError(t, sink.Close())

	for _, dsn := range []string{"mysql://localhost/boardsync", "ftp://localhost/boards"} {
		_, err = BuildSinkFromDSN(dsn)
		assert.ErrorContains(t, err, "unsupported snapshot sink scheme", dsn)
	}
}

func TestRegisterSinkFactory(t *testing.T) {
	scheme := "snapshottestcustom"
	memory := NewMemorySink()
	RegisterSinkFactory(scheme, func(dsn string) (Sink, error) {
		return memory, nil
	})
	sink, err := BuildSinkFromDSN(scheme + "://example")
	require.NoError(t, err)
	assert.Same(t, memory, sink)
}

func TestFileSinkRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	sink := NewFileSink(path)
	_, err := sink.Load(context.Background(), "a")
	assert.Error(t, err)
}

func TestFileSinksSharingOnePathKeepEveryBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boards.json")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink := NewFileSink(path)
			for j := 0; j < 10; j++ {
				assert.NoError(t, sink.Save(ctx, fmt.Sprintf("ws_1/br_%d/task", i), sampleBoard()))
			}
		}(i)
	}
	wg.Wait()

	sink := NewFileSink(path)
	for i := 0; i < 4; i++ {
		b, err := sink.Load(ctx, fmt.Sprintf("ws_1/br_%d/task", i))
		require.NoError(t, err)
		assert.NotNil(t, b, i)
	}
	_, err := os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestFileSinkLoadFromMissingDirectory(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "absent", "boards.json"))
	b, err := sink.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, b)
}
