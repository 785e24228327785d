package transcode

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
)

const (
	outputFrameRate = 30
	videoBitrate    = "2500k"
	videoBufsize    = "5000k"
	audioBitrate    = "128k"
	canvasWidth     = 1280
	canvasHeight    = 720
)

// buildArgs assembles the transcoder invocation for one job. All sources
// come in over a single SDP input, so streams are addressed as 0:v:N and
// 0:a:N in m-line order.
func buildArgs(conf config.TranscodeConfig, sid core.SessionID, sdpPath string, videos, audios int) []string {
	args := []string{
		"-protocol_whitelist", "file,udp,rtp",
		"-f", "sdp",
		"-i", sdpPath,
	}

	filter, videoLabel, audioLabel := buildFilter(videos, audios)
	if filter != "" {
		args = append(args, "-filter_complex", filter)
	}

	args = append(args, "-map", videoLabel)
	args = append(args,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-r", fmt.Sprintf("%d", outputFrameRate),
		// Bound the GOP to the segment length so every segment opens on a
		// keyframe.
		"-g", fmt.Sprintf("%d", outputFrameRate*conf.SegmentSeconds),
		"-keyint_min", fmt.Sprintf("%d", outputFrameRate),
		"-b:v", videoBitrate,
		"-maxrate", videoBitrate,
		"-bufsize", videoBufsize,
		"-pix_fmt", "yuv420p",
	)

	args = append(args, "-map", audioLabel)
	args = append(args,
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ar", "48000",
	)

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", conf.SegmentSeconds),
		"-hls_list_size", fmt.Sprintf("%d", conf.WindowSize),
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(conf.OutputDir, fmt.Sprintf("%s_%%03d.ts", sid)),
		ManifestPath(conf, sid),
	)

	return args
}

// buildFilter returns the filter graph and the output labels to map. One
// video is scaled to the full canvas; two are scaled to half width each and
// stacked side by side. Two audio sources are mixed down to one.
func buildFilter(videos, audios int) (filter, videoLabel, audioLabel string) {
	var parts []string

	switch videos {
	case 1:
		parts = append(parts, fmt.Sprintf("[0:v:0]scale=%d:%d[vout]", canvasWidth, canvasHeight))
		videoLabel = "[vout]"
	default:
		parts = append(parts, fmt.Sprintf("[0:v:0]scale=%d:%d[left]", canvasWidth/2, canvasHeight))
		parts = append(parts, fmt.Sprintf("[0:v:1]scale=%d:%d[right]", canvasWidth/2, canvasHeight))
		parts = append(parts, "[left][right]hstack=inputs=2[vout]")
		videoLabel = "[vout]"
	}

	switch audios {
	case 1:
		audioLabel = "0:a:0"
	default:
		parts = append(parts, "[0:a:0][0:a:1]amix=inputs=2[aout]")
		audioLabel = "[aout]"
	}

	return strings.Join(parts, ";"), videoLabel, audioLabel
}

// ManifestPath is where the job's HLS playlist appears once the transcoder
// produced its first segments.
func ManifestPath(conf config.TranscodeConfig, sid core.SessionID) string {
	return filepath.Join(conf.OutputDir, fmt.Sprintf("%s.m3u8", sid))
}

// SDPPath is where the job's generated session description is written.
func SDPPath(conf config.TranscodeConfig, sid core.SessionID) string {
	return filepath.Join(conf.OutputDir, fmt.Sprintf("%s.sdp", sid))
}
