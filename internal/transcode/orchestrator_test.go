package transcode

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
	"github.com/glowmedia/streamgate/internal/engine/enginetest"
	"github.com/glowmedia/streamgate/internal/registry"
)

const broadcaster = core.SessionID("broadcaster")

type fakeProcess struct {
	once sync.Once
	done chan error
}

func (p *fakeProcess) Done() <-chan error { return p.done }

func (p *fakeProcess) Stop() {
	p.once.Do(func() { p.done <- errors.New("killed") })
}

type fakeRunner struct {
	mu       sync.Mutex
	startErr error
	args     [][]string
	procs    []*fakeProcess
}

func (r *fakeRunner) Start(_ core.SessionID, args []string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startErr != nil {
		return nil, r.startErr
	}

	proc := &fakeProcess{done: make(chan error, 1)}
	r.args = append(r.args, args)
	r.procs = append(r.procs, proc)

	return proc, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	started  []core.SessionID
	finished []core.SessionID
}

func (h *fakeHistory) JobStarted(sid core.SessionID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, sid)
	return nil
}

func (h *fakeHistory) JobFinished(sid core.SessionID, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, sid)
	return nil
}

func (h *fakeHistory) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.started), len(h.finished)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *enginetest.FakeEngine, *registry.Registry, *fakeRunner, *fakeHistory) {
	t.Helper()

	conf := config.NewConfig().Transcode
	conf.OutputDir = t.TempDir()
	conf.ReadinessInterval = 2 * time.Millisecond
	conf.ReadinessAttempts = 100
	conf.KeyframeInterval = time.Hour

	eng := enginetest.NewFakeEngine()
	reg := registry.New()
	runner := &fakeRunner{}
	history := &fakeHistory{}

	o := NewOrchestrator(Options{
		Config:   conf,
		Engine:   eng,
		Registry: reg,
		Runner:   runner,
		History:  history,
	})

	return o, eng, reg, runner, history
}

func addProducer(t *testing.T, eng *enginetest.FakeEngine, reg *registry.Registry, sid core.SessionID, kind core.MediaKind) engine.Producer {
	t.Helper()

	transport, err := eng.CreateTransport(engine.DirectionSend, "0.0.0.0")
	require.NoError(t, err)

	producer, err := transport.Produce(kind, json.RawMessage(`{}`))
	require.NoError(t, err)

	reg.AttachTransport(sid, transport)
	reg.AttachProducer(sid, producer)

	return producer
}

func startAndWait(t *testing.T, o *Orchestrator, sid core.SessionID) error {
	t.Helper()

	results := make(chan error, 1)
	o.Start(sid, func(err error) { results <- err })

	select {
	case err := <-results:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("no start result")
		return nil
	}
}

func TestStartWithoutSources(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t)

	assert.ErrorIs(t, startAndWait(t, o, broadcaster), core.ErrNoEligibleSources)
}

func TestStartNeedsBothKinds(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	addProducer(t, eng, reg, broadcaster, core.VideoKind)

	assert.ErrorIs(t, startAndWait(t, o, broadcaster), core.ErrNoEligibleSources)
}

func TestStartBridgesAndReportsReady(t *testing.T) {
	o, eng, reg, runner, history := newTestOrchestrator(t)
	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	// The fake runner produces no output, stand in for the transcoder.
	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	require.NoError(t, startAndWait(t, o, broadcaster))

	sdpRaw, err := os.ReadFile(SDPPath(o.Config, broadcaster))
	require.NoError(t, err)
	assert.Contains(t, string(sdpRaw), "m=video 5004 RTP/AVP 96")
	assert.Contains(t, string(sdpRaw), "m=audio 5006 RTP/AVP 97")

	runner.mu.Lock()
	require.Len(t, runner.args, 1)
	runner.mu.Unlock()

	started, finished := history.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 0, finished)
}

func TestKeyframePacingCoversReadinessWindow(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	o.Config.KeyframeInterval = 2 * time.Millisecond
	o.Config.ReadinessAttempts = 10000

	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	results := make(chan error, 1)
	o.Start(broadcaster, func(err error) { results <- err })

	// The manifest does not exist yet, so the job is still polling for
	// readiness. Keyframes must flow regardless: the transcoder cannot
	// produce any output until its sources emit a leading frame.
	video := eng.BridgeTransports[0].Consumers[0]
	audio := eng.BridgeTransports[1].Consumers[0]
	assert.Eventually(t, func() bool {
		return video.KeyframeRequests() >= 3
	}, 5*time.Second, time.Millisecond)

	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	select {
	case err := <-results:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no start result")
	}

	// Only video sources are paced.
	assert.Equal(t, 0, audio.KeyframeRequests())

	o.Stop(broadcaster)
}

func TestKeyframeFailureIsBestEffort(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	o.Config.KeyframeInterval = 2 * time.Millisecond

	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	require.NoError(t, startAndWait(t, o, broadcaster))

	video := eng.BridgeTransports[0].Consumers[0]
	video.FailKeyframes(errors.New("no rtcp route"))

	// Pacing keeps ticking through failures and the job stays up.
	before := video.KeyframeRequests()
	assert.Eventually(t, func() bool {
		return video.KeyframeRequests() > before+2
	}, 5*time.Second, time.Millisecond)

	o.lock.Lock()
	assert.Len(t, o.jobs, 1)
	o.lock.Unlock()

	o.Stop(broadcaster)
}

func TestStopDuringReadinessAcksTerminated(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	o.Config.ReadinessAttempts = 10000

	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	results := make(chan error, 1)
	o.Start(broadcaster, func(err error) { results <- err })

	// No manifest yet: the job spawned fine and is polling. Stopping it
	// now must not be reported as a spawn failure.
	o.Stop(broadcaster)

	select {
	case err := <-results:
		assert.ErrorIs(t, err, core.ErrTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("no start result")
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	require.NoError(t, startAndWait(t, o, broadcaster))
	assert.ErrorIs(t, startAndWait(t, o, broadcaster), core.ErrAlreadyRunning)
}

func TestStopReleasesEverything(t *testing.T) {
	o, eng, reg, _, history := newTestOrchestrator(t)
	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	require.NoError(t, startAndWait(t, o, broadcaster))

	o.Stop(broadcaster)

	_, err := os.Stat(SDPPath(o.Config, broadcaster))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(manifest)
	assert.True(t, os.IsNotExist(err))

	_, finished := history.counts()
	assert.Equal(t, 1, finished)

	// The lease pool is whole again.
	pair, err := o.ports.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 5004, pair.RTP)

	// Stopping again is a no-op.
	o.Stop(broadcaster)
}

func TestSpawnFailureReleasesLeases(t *testing.T) {
	o, eng, reg, runner, _ := newTestOrchestrator(t)
	runner.startErr = errors.New("no such binary")

	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	assert.ErrorIs(t, startAndWait(t, o, broadcaster), core.ErrSpawn)

	pair, err := o.ports.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 5004, pair.RTP)

	o.lock.Lock()
	assert.Empty(t, o.jobs)
	o.lock.Unlock()
}

func TestReadinessTimeout(t *testing.T) {
	o, eng, reg, _, _ := newTestOrchestrator(t)
	o.Config.ReadinessAttempts = 3

	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	assert.ErrorIs(t, startAndWait(t, o, broadcaster), core.ErrReadinessTimeout)

	o.lock.Lock()
	assert.Empty(t, o.jobs)
	o.lock.Unlock()
}

func TestProcessExitTearsJobDown(t *testing.T) {
	o, eng, reg, runner, history := newTestOrchestrator(t)
	addProducer(t, eng, reg, broadcaster, core.VideoKind)
	addProducer(t, eng, reg, broadcaster, core.AudioKind)

	manifest := ManifestPath(o.Config, broadcaster)
	require.NoError(t, os.WriteFile(manifest, []byte("#EXTM3U"), 0o644))

	require.NoError(t, startAndWait(t, o, broadcaster))

	runner.mu.Lock()
	runner.procs[0].done <- errors.New("segfault")
	runner.mu.Unlock()

	assert.Eventually(t, func() bool {
		o.lock.Lock()
		defer o.lock.Unlock()
		return len(o.jobs) == 0
	}, 5*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, finished := history.counts()
		return finished == 1
	}, 5*time.Second, 5*time.Millisecond)
}
