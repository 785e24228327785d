package config

import (
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

type Config struct {
	RTC       RTCConfig       `mapstructure:"rtc"`
	Peer      PeerConfig      `mapstructure:"peer"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

type RTCConfig struct {
	// ListenIP is the address peer-facing transports bind to.
	ListenIP          string `mapstructure:"listen_ip"`
	ICEPortRangeStart uint32 `mapstructure:"ice_port_range_start"`
	ICEPortRangeEnd   uint32 `mapstructure:"ice_port_range_end"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec `mapstructure:"enabled_codecs"`
}

type TranscodeConfig struct {
	// FFmpegPath is the external transcoder binary.
	FFmpegPath string `mapstructure:"ffmpeg_path"`

	// BridgeIP is the loopback address both ends of the bridge use: the
	// engine sends RTP to it, the transcoder listens on it.
	BridgeIP string `mapstructure:"bridge_ip"`

	// UDP port range leased to bridged sources, one RTP/RTCP pair each.
	PortRangeStart int `mapstructure:"port_range_start"`
	PortRangeEnd   int `mapstructure:"port_range_end"`

	// OutputDir holds the generated HLS manifests and segments.
	OutputDir string `mapstructure:"output_dir"`

	SegmentSeconds    int `mapstructure:"segment_seconds"`
	WindowSize        int `mapstructure:"window_size"`
	ReadinessAttempts int `mapstructure:"readiness_attempts"`

	ReadinessInterval time.Duration `mapstructure:"readiness_interval"`
	KeyframeInterval  time.Duration `mapstructure:"keyframe_interval"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	// DSN enables job history persistence when set.
	DSN string `mapstructure:"dsn"`
}

func NewConfig() *Config {
	return &Config{
		RTC: RTCConfig{
			ListenIP:          "0.0.0.0",
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
		},
		Transcode: TranscodeConfig{
			FFmpegPath:        "ffmpeg",
			BridgeIP:          "127.0.0.1",
			PortRangeStart:    5004,
			PortRangeEnd:      5104,
			OutputDir:         "live",
			SegmentSeconds:    2,
			WindowSize:        5,
			ReadinessAttempts: 20,
			ReadinessInterval: time.Second,
			KeyframeInterval:  3 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Load reads the config file (when present) over the defaults.
func Load(path string) (*Config, error) {
	conf := NewConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("streamgate")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(conf); err != nil {
		return nil, err
	}

	return conf, nil
}
