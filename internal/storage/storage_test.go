package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namingpush/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreRecentNewestFirstAndReplay(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.AppendTrace(ctx, PushTrace{ID: id, ClientID: "c1", Kind: "service", OK: true}))
	}

	got, err := st.RecentTraces(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendTrace(ctx, PushTrace{ID: "d"}), ErrClosed)

	reopened, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer reopened.Close()
	all, err := reopened.RecentTraces(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)
}

func TestFileStoreRingWraps(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ring")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < fileRecentCap+5; i++ {
		require.NoError(t, st.AppendTrace(ctx, PushTrace{TookMS: int64(i)}))
	}
	all, err := st.RecentTraces(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, fileRecentCap)
	assert.Equal(t, int64(fileRecentCap+4), all[0].TookMS)
	assert.Equal(t, int64(5), all[len(all)-1].TookMS)
}

func TestRecorderPersistsAsync(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "rec")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	rec := NewRecorder(st, 4, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	rec.Record(PushTrace{ID: "x", At: time.Now()})
	require.Eventually(t, func() bool {
		got, _ := st.RecentTraces(context.Background(), 1)
		return len(got) == 1 && got[0].ID == "x"
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "full")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	rec := NewRecorder(st, 1, logx.Nop())
	rec.Record(PushTrace{ID: "1"})
	rec.Record(PushTrace{ID: "2"})
	assert.Equal(t, uint64(1), rec.Dropped())

	var nilRec *Recorder
	nilRec.Record(PushTrace{})
	assert.Zero(t, nilRec.Dropped())
}
