package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

// ClientConfig is the configuration of a headless room client.
type ClientConfig struct {
	Server      string        `mapstructure:"server"`
	User        string        `mapstructure:"user"`
	Name        string        `mapstructure:"name"`
	STUNServers []string      `mapstructure:"stun"`
	TURNServers []string      `mapstructure:"turn"`
	TURNUser    string        `mapstructure:"turn_user"`
	TURNPass    string        `mapstructure:"turn_pass"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`

	// UDP addresses receiving RTP from an external encoder.
	Camera     string `mapstructure:"camera"`
	Microphone string `mapstructure:"microphone"`
	Screen     string `mapstructure:"screen"`
}

// RegisterClientFlags declares every client flag on fs so LoadClient can bind them.
func RegisterClientFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:8080", "relay base URL")
	fs.String("user", "", "user id presented to the relay")
	fs.String("name", "", "display name")
	fs.StringSlice("stun", []string{DefaultSTUN}, "STUN server URLs")
	fs.StringSlice("turn", nil, "TURN server URLs")
	fs.String("turn-user", "", "TURN username")
	fs.String("turn-pass", "", "TURN credential")
	fs.Duration("heartbeat", 30*time.Second, "presence heartbeat interval")
	fs.String("camera", "", "UDP address receiving camera RTP (VP8)")
	fs.String("microphone", "", "UDP address receiving microphone RTP (Opus)")
	fs.String("screen", "", "UDP address receiving screen RTP (VP8)")
}

// LoadClient resolves flags > ROOMCTL_* env > defaults.
func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ROOMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if _, err := url.Parse(cfg.Server); err != nil || cfg.Server == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.Server)
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	return &cfg, nil
}

// ICEServers returns the ICE server list passed opaquely to every PeerConnection.
func (c *ClientConfig) ICEServers() []webrtc.ICEServer {
	stun := c.STUNServers
	if len(stun) == 0 {
		stun = []string{DefaultSTUN}
	}
	servers := []webrtc.ICEServer{{URLs: stun}}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}
