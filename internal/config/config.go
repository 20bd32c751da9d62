package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":4000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/tunnelx.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/tunnelx.log"`

	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"30m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"168h"`

	// Tunnel process settings
	OpenVPNPath   string `envconfig:"OPENVPN_PATH" default:"openvpn"`
	OpenVPNConfig string `envconfig:"OPENVPN_CONFIG" default:"/app/vpn_configs/client.ovpn"`

	// Management (control) port range; one port per live session
	ManagementPortMin int `envconfig:"MANAGEMENT_PORT_MIN" default:"7505"`
	ManagementPortMax int `envconfig:"MANAGEMENT_PORT_MAX" default:"8504"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`

	// Grace window before a disconnected push channel binding is discarded,
	// tolerating fast reconnects.
	UnbindGrace time.Duration `envconfig:"UNBIND_GRACE" default:"2s"`

	SplitTunnelGateway string `envconfig:"SPLIT_TUNNEL_GATEWAY" default:"10.81.32.1"`
	SplitTunnelPresets string `envconfig:"SPLIT_TUNNEL_PRESETS" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TUNNELX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.ManagementPortMin > Cfg.ManagementPortMax {
		log.Fatalf("invalid management port range %d-%d", Cfg.ManagementPortMin, Cfg.ManagementPortMax)
	}
}

type presetFile struct {
	Domains []string `yaml:"domains"`
}

// LoadPresets reads the optional split-tunnel preset file. A missing path
// configured to "" is not an error and yields no presets.
func LoadPresets(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var pf presetFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	return pf.Domains, nil
}
