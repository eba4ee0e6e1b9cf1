package udp

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != NetworkUDP4 {
		t.Errorf("Network = %q, want udp4", cfg.Network)
	}
	if cfg.MaxDatagramSize != 65535 {
		t.Errorf("MaxDatagramSize = %d, want 65535", cfg.MaxDatagramSize)
	}
	if cfg.ReadBatch != 16 {
		t.Errorf("ReadBatch = %d, want 16", cfg.ReadBatch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"udp6", func(c *Config) { c.Network = NetworkUDP6 }, false},
		{"empty network", func(c *Config) { c.Network = "" }, false},
		{"tcp", func(c *Config) { c.Network = "tcp" }, true},
		{"negative port", func(c *Config) { c.ListenPort = -1 }, true},
		{"port too large", func(c *Config) { c.ListenPort = 65536 }, true},
		{"negative buffer", func(c *Config) { c.RecvBufferSize = -1 }, true},
		{"datagram too large", func(c *Config) { c.MaxDatagramSize = 70000 }, true},
		{"negative batch", func(c *Config) { c.ReadBatch = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ListenAddr(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{ListenPort: 9000}, ":9000"},
		{Config{ListenAddress: "127.0.0.1", ListenPort: 9000}, "127.0.0.1:9000"},
		{Config{ListenAddress: "::1", ListenPort: 53}, "[::1]:53"},
	}
	for _, tt := range tests {
		if got := tt.cfg.ListenAddr(); got != tt.want {
			t.Errorf("ListenAddr() = %q, want %q", got, tt.want)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{ListenPort: 9000}.withDefaults()
	if cfg.Network != NetworkUDP4 || cfg.MaxDatagramSize != 65535 || cfg.ReadBatch != 16 {
		t.Errorf("withDefaults() = %+v", cfg)
	}
	if cfg.loopback() != "127.0.0.1" {
		t.Errorf("loopback() = %q", cfg.loopback())
	}
	if (Config{Network: NetworkUDP6}).loopback() != "::1" {
		t.Error("udp6 loopback should be ::1")
	}
}
