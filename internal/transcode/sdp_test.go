package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowmedia/streamgate/internal/core"
)

func TestBuildSDP(t *testing.T) {
	raw, err := buildSDP("127.0.0.1", []BridgeSource{
		{Kind: core.VideoKind, PayloadType: 96, Ports: PortPair{RTP: 5004, RTCP: 5005}},
		{Kind: core.AudioKind, PayloadType: 97, Ports: PortPair{RTP: 5006, RTCP: 5007}},
	})
	require.NoError(t, err)

	description := string(raw)
	assert.Contains(t, description, "o=- 0 0 IN IP4 127.0.0.1")
	assert.Contains(t, description, "s=FFMPEG")
	assert.Contains(t, description, "c=IN IP4 127.0.0.1")
	assert.Contains(t, description, "m=video 5004 RTP/AVP 96")
	assert.Contains(t, description, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, description, "a=rtcp:5005")
	assert.Contains(t, description, "m=audio 5006 RTP/AVP 97")
	assert.Contains(t, description, "a=rtpmap:97 opus/48000/2")
	assert.Contains(t, description, "a=rtcp:5007")
	assert.Contains(t, description, "a=recvonly")
}

func TestBuildSDPVideoOnly(t *testing.T) {
	raw, err := buildSDP("127.0.0.1", []BridgeSource{
		{Kind: core.VideoKind, PayloadType: 96, Ports: PortPair{RTP: 5010, RTCP: 5011}},
	})
	require.NoError(t, err)

	description := string(raw)
	assert.Contains(t, description, "m=video 5010 RTP/AVP 96")
	assert.NotContains(t, description, "m=audio")
}
