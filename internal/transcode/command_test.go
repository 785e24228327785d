package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glowmedia/streamgate/internal/config"
)

func transcodeConf() config.TranscodeConfig {
	return config.NewConfig().Transcode
}

func TestBuildArgsSingleSourcePair(t *testing.T) {
	args := buildArgs(transcodeConf(), "sess-1", "live/sess-1.sdp", 1, 1)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-protocol_whitelist file,udp,rtp -f sdp -i live/sess-1.sdp")
	assert.Contains(t, joined, "[0:v:0]scale=1280:720[vout]")
	assert.NotContains(t, joined, "hstack")
	assert.NotContains(t, joined, "amix")
	assert.Contains(t, joined, "-map [vout]")
	assert.Contains(t, joined, "-map 0:a:0")
	assert.Contains(t, joined, "-c:v libx264 -preset ultrafast -tune zerolatency")
	assert.Contains(t, joined, "-c:a aac")
}

func TestBuildArgsTwoSourcesSideBySide(t *testing.T) {
	args := buildArgs(transcodeConf(), "sess-2", "live/sess-2.sdp", 2, 2)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "[0:v:0]scale=640:720[left]")
	assert.Contains(t, joined, "[0:v:1]scale=640:720[right]")
	assert.Contains(t, joined, "[left][right]hstack=inputs=2[vout]")
	assert.Contains(t, joined, "[0:a:0][0:a:1]amix=inputs=2[aout]")
	assert.Contains(t, joined, "-map [vout]")
	assert.Contains(t, joined, "-map [aout]")
}

func TestBuildArgsHLSOutput(t *testing.T) {
	conf := transcodeConf()
	args := buildArgs(conf, "sess-3", "live/sess-3.sdp", 1, 1)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f hls -hls_time 2 -hls_list_size 5 -hls_flags delete_segments")
	assert.Contains(t, joined, "-hls_segment_filename live/sess-3_%03d.ts")
	assert.Equal(t, "live/sess-3.m3u8", args[len(args)-1])
}

func TestBuildArgsGOPBoundToSegmentLength(t *testing.T) {
	args := buildArgs(transcodeConf(), "sess-4", "live/sess-4.sdp", 1, 1)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-g 60")
	assert.Contains(t, joined, "-keyint_min 30")
}
