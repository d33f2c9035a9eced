package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namingpush/internal/eventbus"
	"namingpush/internal/naming"
	"namingpush/internal/push"
	"namingpush/internal/storage"
	"namingpush/pkg/logx"
)

type recordingTransport struct {
	mu  sync.Mutex
	got []push.Payload
}

func (r *recordingTransport) Push(_ context.Context, _ string, p push.Payload) error {
	r.mu.Lock()
	r.got = append(r.got, p)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := `
logging:
  level: error
push:
  task_delay: 20ms
  poll_interval: 5ms
  workers: 2
storage:
  driver: file
  path: ` + filepath.Join(dir, "traces") + `
http:
  enabled: false
monitor:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppPushesAndPersistsTraces(t *testing.T) {
	dir := t.TempDir()
	out := &recordingTransport{}
	a, err := New(writeConfig(t, dir), WithTransport(out))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	svc := naming.NewService("", "", "orders")
	require.NoError(t, a.Registry().Connect("c1", "10.0.0.1:1"))
	_, err = a.Registry().Subscribe(naming.Subscriber{ClientID: "c1", Namespace: svc.Namespace, GroupedName: svc.GroupedName()})
	require.NoError(t, err)
	a.Registry().PutService(naming.ServiceInfo{Service: svc, Revision: 1})

	a.Bus().Publish(eventbus.ServiceChanged{Service: svc, Change: naming.ChangeChanged})
	require.Eventually(t, func() bool { return out.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, a.Stop(stopCtx))

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "traces")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	traces, err := st.RecentTraces(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "c1", traces[0].ClientID)
	assert.Equal(t, push.KindService, traces[0].Kind)
	assert.True(t, traces[0].OK)
}

func TestNewRejectsMissingConfig(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDoneBeforeStartIsClosed(t *testing.T) {
	a := &App{}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed before Start")
	}
	assert.NoError(t, a.Err())
}

func TestLogTransportAcceptsEveryPayload(t *testing.T) {
	tr := logTransport{log: logx.Nop()}
	ctx := context.Background()
	assert.NoError(t, tr.Push(ctx, "c1", push.ServicePush{}))
	assert.NoError(t, tr.Push(ctx, "c1", push.FuzzyInitPush{Pattern: "*", Finished: true}))
	assert.NoError(t, tr.Push(ctx, "c1", push.FuzzyChangePush{Change: naming.ChangeAdded}))
}
