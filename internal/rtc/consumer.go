package rtc

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

// Consumer relays one producer into a peer-facing transport. It is created
// paused and drops packets until resumed.
type Consumer struct {
	id       string
	producer *Producer
	track    *webrtc.TrackLocalStaticRTP
	sender   *webrtc.RTPSender
	pt       uint8

	paused    int32
	closeOnce sync.Once
	closeErr  error
}

func newConsumer(producer *Producer, track *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender, pt uint8) *Consumer {
	return &Consumer{
		id:       uuid.NewString(),
		producer: producer,
		track:    track,
		sender:   sender,
		pt:       pt,
		paused:   1,
	}
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producer.ID() }
func (c *Consumer) Kind() core.MediaKind {
	return c.producer.Kind()
}

func (c *Consumer) Info() engine.ConsumerInfo {
	params, _ := json.Marshal(map[string]interface{}{
		"codec":       c.track.Codec().MimeType,
		"clockRate":   c.track.Codec().ClockRate,
		"payloadType": c.pt,
	})

	return engine.ConsumerInfo{
		ID:            c.id,
		ProducerID:    c.producer.ID(),
		Kind:          c.producer.Kind(),
		RTPParameters: params,
	}
}

func (c *Consumer) PayloadType() uint8 { return c.pt }

// Resume starts the media flow and immediately asks for a keyframe so video
// playback does not stall on a mid-GOP start.
func (c *Consumer) Resume() error {
	atomic.StoreInt32(&c.paused, 0)

	return c.producer.RequestKeyframe()
}

func (c *Consumer) RequestKeyframe() error {
	return c.producer.RequestKeyframe()
}

func (c *Consumer) writeRTP(packet *rtp.Packet) {
	if atomic.LoadInt32(&c.paused) == 1 {
		return
	}

	if err := c.track.WriteRTP(packet); err != nil {
		log.Debug().Err(err).Str("service", "rtc").Str("consumerID", c.id).Msg("write to consumer track")
	}
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.paused, 1)
		c.producer.detach(c.id)
		c.closeErr = c.sender.Stop()
	})

	return c.closeErr
}
