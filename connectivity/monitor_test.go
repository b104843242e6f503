package connectivity

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type flakyProber struct {
	mu  sync.Mutex
	err error
}

func (p *flakyProber) Health(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *flakyProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestOnlineIsFalseBeforeFirstProbe(t *testing.T) {
	m := NewMonitor(&flakyProber{}, testLogger(), 0)
	assert.False(t, m.Online())
}

func TestProbeFlipsStateAndFiresEdgeCallbacks(t *testing.T) {
	prober := &flakyProber{err: errors.New("unreachable")}
	m := NewMonitor(prober, testLogger(), 0)

	var onlineFired, offlineFired int
	m.OnOnline(func() { onlineFired++ })
	m.OnOffline(func() { offlineFired++ })

	ctx := context.Background()

	m.ProbeOnce(ctx)
	assert.False(t, m.Online())
	assert.Equal(t, 1, offlineFired, "first probe establishes the offline state")

	prober.set(nil)
	m.ProbeOnce(ctx)
	assert.True(t, m.Online())
	assert.Equal(t, 1, onlineFired)

	// Same state again: no edge, no callback.
	m.ProbeOnce(ctx)
	assert.Equal(t, 1, onlineFired)

	prober.set(errors.New("unreachable"))
	m.ProbeOnce(ctx)
	assert.False(t, m.Online())
	assert.Equal(t, 2, offlineFired)
}

func TestCallbacksRegisteredAfterStateStillFireOnNextEdge(t *testing.T) {
	prober := &flakyProber{}
	m := NewMonitor(prober, testLogger(), 0)
	m.ProbeOnce(context.Background())

	var fired bool
	m.OnOffline(func() { fired = true })

	prober.set(errors.New("gone"))
	m.ProbeOnce(context.Background())
	assert.True(t, fired)
}
