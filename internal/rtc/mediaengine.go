package rtc

import (
	"strings"

	"github.com/pion/webrtc/v3"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/engine"
)

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: webrtc.TypeRTCPFBGoogREMB},
	{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
	{Type: webrtc.TypeRTCPFBNACK},
	{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
}

// codecTable is every codec the gateway knows how to negotiate. Which of
// them end up registered is driven by the enabled codec list in the config.
var codecTable = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 96,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP9,
			ClockRate:    90000,
			SDPFmtpLine:  "profile-id=0",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 98,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 125,
	},
}

func createMediaEngine(enabledCodecs []config.CodecSpec) (*webrtc.MediaEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}

	for _, codec := range codecTable {
		if !isCodecEnabled(enabledCodecs, codec.RTPCodecCapability) {
			continue
		}

		codecType := webrtc.RTPCodecTypeVideo
		if strings.HasPrefix(codec.MimeType, "audio/") {
			codecType = webrtc.RTPCodecTypeAudio
		}

		if err := mediaEngine.RegisterCodec(codec, codecType); err != nil {
			return nil, err
		}
	}

	return mediaEngine, nil
}

// capabilitiesFor renders the enabled subset of the codec table as the
// capability descriptor clients match against.
func capabilitiesFor(enabledCodecs []config.CodecSpec) engine.Capabilities {
	caps := engine.Capabilities{}
	for _, codec := range codecTable {
		if !isCodecEnabled(enabledCodecs, codec.RTPCodecCapability) {
			continue
		}

		caps.Codecs = append(caps.Codecs, engine.Codec{
			MimeType:    codec.MimeType,
			ClockRate:   codec.ClockRate,
			Channels:    codec.Channels,
			PayloadType: uint8(codec.PayloadType),
			SDPFmtpLine: codec.SDPFmtpLine,
		})
	}

	return caps
}

// codecForKind picks the first enabled codec of the given kind. It drives
// consumer track creation and the payload type reported to the transcode
// orchestrator.
func codecForKind(enabledCodecs []config.CodecSpec, kind webrtc.RTPCodecType) (webrtc.RTPCodecParameters, bool) {
	prefix := "video/"
	if kind == webrtc.RTPCodecTypeAudio {
		prefix = "audio/"
	}

	for _, codec := range codecTable {
		if !strings.HasPrefix(codec.MimeType, prefix) {
			continue
		}
		if isCodecEnabled(enabledCodecs, codec.RTPCodecCapability) {
			return codec, true
		}
	}

	return webrtc.RTPCodecParameters{}, false
}

func isCodecEnabled(codecs []config.CodecSpec, cap webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, cap.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, cap.SDPFmtpLine) {
			return true
		}
	}
	return false
}
