package transcode

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

// Job states. A job only ever moves forward; terminated is absorbing.
const (
	StateIdle       = "idle"
	StateAllocating = "allocating"
	StateBridging   = "bridging"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

// Job is one live transcode pipeline: the leased ports, the bridge
// transports feeding the transcoder and the transcoder process itself.
type Job struct {
	sid   core.SessionID
	conf  config.TranscodeConfig
	ports *PortsAllocator

	machine *fsm.FSM

	leases     []PortPair
	transports []engine.BridgeTransport
	consumers  []engine.Consumer
	process    Process
	sdpPath    string

	teardownOnce sync.Once
	done         chan struct{}

	// onTerminated runs exactly once, inside teardown.
	onTerminated func()
}

func newJob(sid core.SessionID, conf config.TranscodeConfig, ports *PortsAllocator) *Job {
	j := &Job{
		sid:     sid,
		conf:    conf,
		ports:   ports,
		sdpPath: SDPPath(conf, sid),
		done:    make(chan struct{}),
	}

	j.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "allocate", Src: []string{StateIdle}, Dst: StateAllocating},
			{Name: "bridge", Src: []string{StateAllocating}, Dst: StateBridging},
			{Name: "run", Src: []string{StateBridging}, Dst: StateRunning},
			{Name: "terminate", Src: []string{StateIdle, StateAllocating, StateBridging, StateRunning}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("service", "transcode").Str("sessionID", string(j.sid)).Str("from", e.Src).Str("to", e.Dst).Msg("job state changed")
			},
		},
	)

	return j
}

func (j *Job) State() string {
	return j.machine.Current()
}

func (j *Job) transition(event string) {
	if err := j.machine.Event(context.Background(), event); err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Str("event", event).Msg("job transition")
	}
}

func (j *Job) addBridge(lease PortPair, transport engine.BridgeTransport, consumer engine.Consumer) {
	j.leases = append(j.leases, lease)
	j.transports = append(j.transports, transport)
	j.consumers = append(j.consumers, consumer)
}

// awaitReadiness polls for the HLS manifest the transcoder is expected to
// produce. It returns early when the job is torn down underneath it, either
// by an explicit stop or by the process exiting.
func (j *Job) awaitReadiness() error {
	manifest := ManifestPath(j.conf, j.sid)
	ticker := time.NewTicker(j.conf.ReadinessInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < j.conf.ReadinessAttempts; attempt++ {
		select {
		case <-j.done:
			return core.ErrTerminated
		case <-ticker.C:
			if _, err := os.Stat(manifest); err == nil {
				return nil
			}
		}
	}

	return core.ErrReadinessTimeout
}

// startKeyframePacing periodically asks every bridged video source for a
// keyframe so segment boundaries stay decodable without waiting on the
// publisher's own keyframe cadence. The first request fires right away: a
// fresh encoder produces no output at all until its sources emit a leading
// keyframe, so pacing has to cover the readiness window too.
func (j *Job) startKeyframePacing() {
	go func() {
		ticker := time.NewTicker(j.conf.KeyframeInterval)
		defer ticker.Stop()

		j.requestKeyframes()

		for {
			select {
			case <-j.done:
				return
			case <-ticker.C:
				j.requestKeyframes()
			}
		}
	}()
}

// requestKeyframes is best-effort: a failing source is logged and skipped,
// the next tick retries it.
func (j *Job) requestKeyframes() {
	for _, consumer := range j.consumers {
		if consumer.Kind() != core.VideoKind {
			continue
		}
		if err := consumer.RequestKeyframe(); err != nil {
			log.Debug().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("request keyframe")
		}
	}
}

// Teardown releases everything the job holds. Safe to call from any
// goroutine, any number of times, in any job state.
func (j *Job) Teardown() {
	j.teardownOnce.Do(func() {
		j.transition("terminate")
		close(j.done)

		if j.process != nil {
			j.process.Stop()
		}

		for _, consumer := range j.consumers {
			if err := consumer.Close(); err != nil {
				log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("close bridge consumer")
			}
		}
		for _, transport := range j.transports {
			if err := transport.Close(); err != nil {
				log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("close bridge transport")
			}
		}
		for _, lease := range j.leases {
			j.ports.Release(lease)
		}

		j.removeArtifacts()

		if j.onTerminated != nil {
			j.onTerminated()
		}

		log.Info().Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("job terminated")
	})
}

// removeArtifacts deletes the generated SDP and every output file the
// transcoder wrote for this session.
func (j *Job) removeArtifacts() {
	if err := os.Remove(j.sdpPath); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("remove sdp")
	}

	matches, err := filepath.Glob(filepath.Join(j.conf.OutputDir, string(j.sid)+"*"))
	if err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Msg("glob artifacts")
		return
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(j.sid)).Str("path", path).Msg("remove artifact")
		}
	}
}
