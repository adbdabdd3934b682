package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gordian-engine/dnotif"
)

// Config is the dnotifctl configuration,
// shared by the listen and send commands.
type Config struct {
	Protocol  dnotif.ProtocolName
	Fallbacks []dnotif.ProtocolName

	MaxNotificationSize uint64

	// Handshake the listener answers with.
	Handshake []byte

	// Whether the listener refuses every substream.
	Refuse bool

	// Initial message sent by the send command.
	InitialMessage []byte

	// Bound on dialing and on each upgrade.
	Timeout time.Duration
}

// DefaultConfig returns the configuration used
// when no config file is given.
func DefaultConfig() Config {
	return Config{
		Protocol: "/dnotif/example/1",

		MaxNotificationSize: 1024 * 1024,

		Handshake:      []byte("dnotifctl"),
		InitialMessage: []byte("dnotifctl"),

		Timeout: 10 * time.Second,
	}
}

type fileConfig struct {
	Protocol            string   `toml:"protocol"`
	Fallbacks           []string `toml:"fallbacks"`
	MaxNotificationSize uint64   `toml:"max_notification_size"`
	Handshake           string   `toml:"handshake"`
	Refuse              bool     `toml:"refuse"`
	InitialMessage      string   `toml:"initial_message"`
	Timeout             string   `toml:"timeout"`
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load dnotifctl config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if meta.IsDefined("protocol") {
		p := strings.TrimSpace(raw.Protocol)
		if p == "" {
			return Config{}, fmt.Errorf("protocol must not be empty")
		}
		cfg.Protocol = dnotif.ProtocolName(p)
	}

	if meta.IsDefined("fallbacks") {
		cfg.Fallbacks = make([]dnotif.ProtocolName, 0, len(raw.Fallbacks))
		for _, f := range raw.Fallbacks {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			cfg.Fallbacks = append(cfg.Fallbacks, dnotif.ProtocolName(f))
		}
	}

	if meta.IsDefined("max_notification_size") {
		cfg.MaxNotificationSize = raw.MaxNotificationSize
	}

	if meta.IsDefined("handshake") {
		cfg.Handshake = []byte(raw.Handshake)
	}

	if meta.IsDefined("refuse") {
		cfg.Refuse = raw.Refuse
	}

	if meta.IsDefined("initial_message") {
		cfg.InitialMessage = []byte(raw.InitialMessage)
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

func (c Config) inboundConfig() dnotif.InboundConfig {
	return dnotif.InboundConfig{
		ProtocolName:        c.Protocol,
		FallbackNames:       c.Fallbacks,
		MaxNotificationSize: c.MaxNotificationSize,
	}
}

func (c Config) outboundConfig(peer string) dnotif.OutboundConfig {
	return dnotif.OutboundConfig{
		ProtocolName:        c.Protocol,
		FallbackNames:       c.Fallbacks,
		InitialMessage:      c.InitialMessage,
		MaxNotificationSize: c.MaxNotificationSize,
		Peer:                peer,
	}
}
