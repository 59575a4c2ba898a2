package eventbus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/pkg/logging"
)

func newTestBus(t *testing.T, path string) *Bus {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	b := New(path, logger)
	require.NoError(t, b.Open())
	return b
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := newTestBus(t, "")
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish("position_opened", map[string]string{"coin": "BTC"})
	<-sub.Notify()

	events, lossy := sub.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, "position_opened", events[0].Type)
	assert.False(t, lossy)
}

func TestSubscribe_DropsOldestWhenLaggingInsteadOfDisconnecting(t *testing.T) {
	b := newTestBus(t, "")
	b.backlog = 2
	sub := b.Subscribe()
	sub.sub.cap = 2
	defer sub.Unsubscribe()

	b.Publish("a", nil)
	b.Publish("b", nil)
	b.Publish("c", nil)

	events, lossy := sub.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].Type)
	assert.Equal(t, "c", events[1].Type)
	assert.True(t, lossy)
}

func TestPublish_PersistsThroughTempFileRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	b := newTestBus(t, path)

	b.Publish("equity_snapshot", map[string]float64{"equity": 1000})

	_, err := os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_RemovesLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(path+".tmp", []byte("garbage"), 0o644))

	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	b := New(path, logger)
	require.NoError(t, b.Open())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestTail_ReturnsMostRecentEventsInOrder(t *testing.T) {
	b := newTestBus(t, "")
	b.Publish("a", nil)
	b.Publish("b", nil)
	b.Publish("c", nil)

	tail := b.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "b", tail[0].Type)
	assert.Equal(t, "c", tail[1].Type)
}
