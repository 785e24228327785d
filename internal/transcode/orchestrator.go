// Package transcode runs the bridge between live producers and the external
// HLS transcoder: it leases loopback ports, wires bridge transports, writes
// the transcoder's SDP, supervises the process and tears all of it down
// again.
package transcode

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
	"github.com/glowmedia/streamgate/internal/registry"
	"github.com/glowmedia/streamgate/internal/telemetry"
)

// Sources beyond these caps are left out of the composition.
const (
	maxVideoSources = 2
	maxAudioSources = 2
)

// History records job lifecycle transitions for later inspection.
// Implemented by the jobs store; a no-op implementation is used when
// persistence is disabled.
type History interface {
	JobStarted(sid core.SessionID) error
	JobFinished(sid core.SessionID, state string) error
}

// Options is options of the orchestrator.
type Options struct {
	Config   config.TranscodeConfig
	Engine   engine.Engine
	Registry *registry.Registry
	Runner   Runner
	History  History
}

// Orchestrator owns every live transcode job, at most one per session.
type Orchestrator struct {
	Options

	ports *PortsAllocator

	lock sync.Mutex
	jobs map[core.SessionID]*Job
}

func NewOrchestrator(options Options) *Orchestrator {
	return &Orchestrator{
		Options: options,
		ports:   NewPortsAllocator(options.Config.PortRangeStart, options.Config.PortRangeEnd),
		jobs:    make(map[core.SessionID]*Job),
	}
}

// Start brings up a transcode job for the session. onResult fires exactly
// once: with nil once the HLS output is observable, with an error when the
// job could not be started or never became ready.
func (o *Orchestrator) Start(sid core.SessionID, onResult func(error)) {
	videos := o.Registry.ProducersByKind(core.VideoKind)
	audios := o.Registry.ProducersByKind(core.AudioKind)
	if len(videos) == 0 || len(audios) == 0 {
		onResult(core.ErrNoEligibleSources)
		return
	}
	if len(videos) > maxVideoSources {
		videos = videos[:maxVideoSources]
	}
	if len(audios) > maxAudioSources {
		audios = audios[:maxAudioSources]
	}

	job := newJob(sid, o.Config, o.ports)
	job.onTerminated = func() {
		o.remove(sid)
		telemetry.TranscodeJobStopped()
		if err := o.History.JobFinished(sid, StateTerminated); err != nil {
			log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(sid)).Msg("record job finish")
		}
	}

	o.lock.Lock()
	if _, exists := o.jobs[sid]; exists {
		o.lock.Unlock()
		onResult(core.ErrAlreadyRunning)
		return
	}
	o.jobs[sid] = job
	o.lock.Unlock()

	telemetry.TranscodeJobStarted()

	if err := o.launch(job, videos, audios); err != nil {
		job.Teardown()
		onResult(err)
		return
	}

	go o.supervise(job)
	go func() {
		if err := job.awaitReadiness(); err != nil {
			log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(sid)).Msg("job never became ready")
			job.Teardown()
			onResult(err)
			return
		}

		log.Info().Str("service", "transcode").Str("sessionID", string(sid)).Str("manifest", ManifestPath(o.Config, sid)).Msg("job ready")
		onResult(nil)
	}()
}

// Stop tears the session's job down. Unknown sessions are a no-op.
func (o *Orchestrator) Stop(sid core.SessionID) {
	o.lock.Lock()
	job := o.jobs[sid]
	o.lock.Unlock()

	if job == nil {
		return
	}

	job.Teardown()
}

// Close stops every live job. Used on shutdown.
func (o *Orchestrator) Close() {
	o.lock.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.lock.Unlock()

	for _, job := range jobs {
		job.Teardown()
	}
}

func (o *Orchestrator) launch(job *Job, videos, audios []engine.Producer) error {
	job.transition("allocate")

	var sources []BridgeSource
	for _, producer := range append(append([]engine.Producer{}, videos...), audios...) {
		lease, err := o.ports.AllocatePair()
		if err != nil {
			log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("lease ports")
			return core.ErrSpawn
		}

		transport, err := o.Engine.CreateBridgeTransport(o.Config.BridgeIP)
		if err != nil {
			o.ports.Release(lease)
			return core.NewEngineError("createBridgeTransport", err)
		}

		if err := transport.Connect(o.Config.BridgeIP, lease.RTP, lease.RTCP); err != nil {
			o.ports.Release(lease)
			transport.Close()
			return core.NewEngineError("connectBridgeTransport", err)
		}

		consumer, err := transport.Consume(producer)
		if err != nil {
			o.ports.Release(lease)
			transport.Close()
			return core.NewEngineError("consumeBridge", err)
		}

		job.addBridge(lease, transport, consumer)
		sources = append(sources, BridgeSource{
			Kind:        producer.Kind(),
			PayloadType: consumer.PayloadType(),
			Ports:       lease,
		})
	}

	job.transition("bridge")

	description, err := buildSDP(o.Config.BridgeIP, sources)
	if err != nil {
		return core.NewEngineError("buildSDP", err)
	}

	if err := os.MkdirAll(o.Config.OutputDir, 0o755); err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("create output dir")
		return core.ErrSpawn
	}
	if err := os.WriteFile(job.sdpPath, description, 0o644); err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("write sdp")
		return core.ErrSpawn
	}

	args := buildArgs(o.Config, job.sid, job.sdpPath, len(videos), len(audios))
	process, err := o.Runner.Start(job.sid, args)
	if err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("spawn transcoder")
		return core.ErrSpawn
	}

	job.process = process
	job.transition("run")

	// Pacing starts with the process, not with readiness: the sources must
	// emit keyframes before the transcoder can produce the manifest at all.
	job.startKeyframePacing()

	if err := o.History.JobStarted(job.sid); err != nil {
		log.Error().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("record job start")
	}

	return nil
}

// supervise waits for the process to exit and tears the job down. The exit
// is the only termination signal: a crashed transcoder releases its ports
// and bridges the same way a stopped one does.
func (o *Orchestrator) supervise(job *Job) {
	err := <-job.process.Done()
	if err != nil {
		log.Warn().Err(err).Str("service", "transcode").Str("sessionID", string(job.sid)).Msg("transcoder exited")
	}

	job.Teardown()
}

func (o *Orchestrator) remove(sid core.SessionID) {
	o.lock.Lock()
	delete(o.jobs, sid)
	o.lock.Unlock()
}
