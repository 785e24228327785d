package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowmedia/streamgate/internal/config"
)

func TestCapabilitiesFollowEnabledCodecs(t *testing.T) {
	enabled := []config.CodecSpec{
		{Mime: webrtc.MimeTypeOpus},
		{Mime: webrtc.MimeTypeVP8},
	}

	caps := capabilitiesFor(enabled)

	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, webrtc.MimeTypeOpus, caps.Codecs[0].MimeType)
	assert.Equal(t, uint8(111), caps.Codecs[0].PayloadType)
	assert.Equal(t, webrtc.MimeTypeVP8, caps.Codecs[1].MimeType)
	assert.Equal(t, uint8(96), caps.Codecs[1].PayloadType)
}

func TestCodecForKind(t *testing.T) {
	enabled := []config.CodecSpec{
		{Mime: webrtc.MimeTypeOpus},
		{Mime: webrtc.MimeTypeH264, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	}

	audio, ok := codecForKind(enabled, webrtc.RTPCodecTypeAudio)
	require.True(t, ok)
	assert.Equal(t, webrtc.MimeTypeOpus, audio.MimeType)

	video, ok := codecForKind(enabled, webrtc.RTPCodecTypeVideo)
	require.True(t, ok)
	assert.Equal(t, webrtc.MimeTypeH264, video.MimeType)
}

func TestCodecForKindNoneEnabled(t *testing.T) {
	_, ok := codecForKind([]config.CodecSpec{{Mime: webrtc.MimeTypeOpus}}, webrtc.RTPCodecTypeVideo)
	assert.False(t, ok)
}

func TestIsCodecEnabledMatchesFmtpLine(t *testing.T) {
	specs := []config.CodecSpec{{Mime: webrtc.MimeTypeVP9, FmtpLine: "profile-id=0"}}

	assert.True(t, isCodecEnabled(specs, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, SDPFmtpLine: "profile-id=0"}))
	assert.False(t, isCodecEnabled(specs, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, SDPFmtpLine: "profile-id=1"}))
}
