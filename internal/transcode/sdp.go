package transcode

import (
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/glowmedia/streamgate/internal/core"
)

// BridgeSource is one producer wired into the bridge: its media kind, the
// payload type the bridge consumer rewrites to and the leased port pair the
// transcoder reads from.
type BridgeSource struct {
	Kind        core.MediaKind
	PayloadType uint8
	Ports       PortPair
}

// buildSDP renders the session description handed to the external
// transcoder. One m-line per bridged source, receive-only, all on the
// bridge address.
func buildSDP(bridgeIP string, sources []BridgeSource) ([]byte, error) {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: bridgeIP,
		},
		SessionName: "FFMPEG",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: bridgeIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	for _, source := range sources {
		media := string(source.Kind)

		rtpmap := fmt.Sprintf("%d VP8/90000", source.PayloadType)
		if source.Kind == core.AudioKind {
			rtpmap = fmt.Sprintf("%d opus/48000/2", source.PayloadType)
		}

		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   media,
				Port:    sdp.RangedPort{Value: source.Ports.RTP},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", source.PayloadType)},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("rtpmap", rtpmap),
				sdp.NewAttribute("rtcp", fmt.Sprintf("%d", source.Ports.RTCP)),
				sdp.NewAttribute("recvonly", ""),
			},
		})
	}

	return desc.Marshal()
}
