// Package wizard provides an interactive setup wizard for udpgroup.
package wizard

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/udpgroup/internal/config"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/udp"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds the raw values collected by the forms.
type Answers struct {
	ConfigPath     string
	ListenPort     string
	ListenAddress  string
	UDPVersion     string
	RecvBufferSize string
	QueueSize      string
	Policy         string
	Pathways       []pathway.Descriptor
	LogLevel       string
	HealthEnabled  bool
	HealthAddress  string
	ControlEnabled bool
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := defaultAnswers()

	// Step 1: Config file
	if err := w.askConfigPath(&a); err != nil {
		return nil, err
	}

	// Step 2: Socket
	if err := w.askSocket(&a); err != nil {
		return nil, err
	}

	// Step 3: Delivery
	if err := w.askDelivery(&a); err != nil {
		return nil, err
	}

	// Step 4: Pathways
	pathways, err := w.askPathways()
	if err != nil {
		return nil, err
	}
	a.Pathways = pathways

	// Step 5: Advanced options
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := writeConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func defaultAnswers() Answers {
	def := config.Default()
	return Answers{
		ConfigPath:    "./udpgroup.yaml",
		ListenPort:    "9000",
		UDPVersion:    def.Group.UDPVersion,
		QueueSize:     strconv.Itoa(def.Delivery.QueueSize),
		Policy:        def.Delivery.Policy,
		LogLevel:      def.Log.Level,
		HealthEnabled: true,
		HealthAddress: def.Health.Address,
	}
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
            _
  _   _  __| |_ __   __ _ _ __ ___  _   _ _ __
 | | | |/ _' | '_ \ / _' | '__/ _ \| | | | '_ \
 | |_| | (_| | |_) | (_| | | | (_) | |_| | |_) |
  \__,_|\__,_| .__/ \__, |_|  \___/ \__,_| .__/
             |_|    |___/                |_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Pathway Multiplexer - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askConfigPath(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where the configuration file is written."),

			huh.NewInput().
				Title("Config File Path").
				Placeholder("./udpgroup.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askSocket(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Socket").
				Description("All pathways share one UDP socket."),

			huh.NewInput().
				Title("Listen Port").
				Placeholder("9000").
				Value(&a.ListenPort).
				Validate(validatePort),

			huh.NewInput().
				Title("Listen Address").
				Description("Leave empty to bind all interfaces").
				Value(&a.ListenAddress).
				Validate(validateOptionalIP),

			huh.NewSelect[string]().
				Title("UDP Version").
				Options(
					huh.NewOption("IPv4 (udp4)", udp.NetworkUDP4),
					huh.NewOption("IPv6 (udp6)", udp.NetworkUDP6),
				).
				Value(&a.UDPVersion),

			huh.NewInput().
				Title("Receive Buffer Size").
				Description("e.g. 4MiB; empty keeps the OS default").
				Value(&a.RecvBufferSize).
				Validate(validateSize),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askDelivery(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Delivery").
				Description("Each pathway buffers datagrams until they are read."),

			huh.NewInput().
				Title("Queue Size").
				Placeholder("256").
				Value(&a.QueueSize).
				Validate(validatePositive),

			huh.NewSelect[string]().
				Title("When a queue is full").
				Options(
					huh.NewOption("Wait for room (lossless)", pathway.PolicyBlock.String()),
					huh.NewOption("Drop the new datagram", pathway.PolicyDropNewest.String()),
					huh.NewOption("Drop the oldest datagram", pathway.PolicyDropOldest.String()),
				).
				Value(&a.Policy),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askPathways() ([]pathway.Descriptor, error) {
	var addPathways bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Pathways").
				Description("A pathway receives datagrams from one remote address."),

			huh.NewConfirm().
				Title("Add pathways now?").
				Description("Pathways can also be added at runtime via the control socket").
				Value(&addPathways),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return nil, err
	}

	if !addPathways {
		return nil, nil
	}

	var pathways []pathway.Descriptor
	addMore := true

	for addMore {
		d, err := w.askSinglePathway(len(pathways) + 1)
		if err != nil {
			return nil, err
		}
		pathways = append(pathways, d)

		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another pathway?").
					Value(&addMore),
			),
		).WithTheme(w.theme)

		if err := confirmForm.Run(); err != nil {
			return nil, err
		}
	}

	return pathways, nil
}

func (w *Wizard) askSinglePathway(num int) (pathway.Descriptor, error) {
	var address, port, name string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Pathway #%d", num)),

			huh.NewInput().
				Title("Remote Address").
				Placeholder("10.0.0.5").
				Value(&address).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("remote address is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Remote Port").
				Description("Empty or * accepts any source port").
				Value(&port).
				Validate(validatePathwayPort),

			huh.NewInput().
				Title("Nickname").
				Description("Optional name used when sending").
				Value(&name),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return pathway.Descriptor{}, err
	}

	return newDescriptor(address, port, name)
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewConfirm().
				Title("Enable health check endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /metrics)").
				Value(&a.HealthEnabled),

			huh.NewConfirm().
				Title("Enable control socket?").
				Description("Unix socket for CLI commands (status, pathways, send)").
				Value(&a.ControlEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// newDescriptor builds a validated descriptor from form input.
func newDescriptor(address, port, name string) (pathway.Descriptor, error) {
	d := pathway.Descriptor{
		RemoteAddress: strings.TrimSpace(address),
		RemotePort:    pathway.Port(strings.TrimSpace(port)),
		RemoteName:    strings.TrimSpace(name),
	}
	if err := d.Validate(); err != nil {
		return pathway.Descriptor{}, err
	}
	return d, nil
}

// buildConfig converts wizard answers into a validated configuration.
func buildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()

	port, err := strconv.Atoi(strings.TrimSpace(a.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("invalid listen port %q", a.ListenPort)
	}
	cfg.Group.ListenPort = port
	cfg.Group.ListenAddress = strings.TrimSpace(a.ListenAddress)
	if a.UDPVersion != "" {
		cfg.Group.UDPVersion = a.UDPVersion
	}

	size, err := config.ParseSize(a.RecvBufferSize)
	if err != nil {
		return nil, err
	}
	cfg.Group.RecvBufferSize = config.ByteSize(size)

	if a.QueueSize != "" {
		n, err := strconv.Atoi(strings.TrimSpace(a.QueueSize))
		if err != nil {
			return nil, fmt.Errorf("invalid queue size %q", a.QueueSize)
		}
		cfg.Delivery.QueueSize = n
	}
	if a.Policy != "" {
		cfg.Delivery.Policy = a.Policy
	}

	if a.Pathways != nil {
		cfg.Pathways = a.Pathways
	}

	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	cfg.Log.Format = "text"

	cfg.Health.Enabled = a.HealthEnabled
	if a.HealthEnabled && a.HealthAddress != "" {
		cfg.Health.Address = a.HealthAddress
	}

	cfg.Control.Enabled = a.ControlEnabled
	if a.ControlEnabled && a.ConfigPath != "" {
		cfg.Control.SocketPath = filepath.Join(filepath.Dir(a.ConfigPath), "udpgroup.sock")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# udpgroup configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Listen:       %s %s\n", cfg.Group.UDPVersion,
		net.JoinHostPort(cfg.Group.ListenAddress, strconv.Itoa(cfg.Group.ListenPort)))
	fmt.Printf("  Pathways:     %d\n", len(cfg.Pathways))
	for _, d := range cfg.Pathways {
		fmt.Printf("    - %s\n", d.Key())
	}

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}
	if cfg.Control.Enabled {
		fmt.Printf("  Control:      %s\n", cfg.Control.SocketPath)
	}

	fmt.Println()
	fmt.Println("  To start the group:")
	fmt.Printf("    udpgroup run -c %s\n", configPath)
	fmt.Println()
}

func validateConfigPath(s string) error {
	if s == "" {
		return errors.New("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return errors.New("config file should have .yaml or .yml extension")
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}

func validatePathwayPort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return nil
	}
	return validatePort(s)
}

func validateOptionalIP(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if net.ParseIP(s) == nil {
		return errors.New("listen address must be an IP address")
	}
	return nil
}

func validateSize(s string) error {
	_, err := config.ParseSize(s)
	return err
}

func validatePositive(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return errors.New("must be a positive number")
	}
	return nil
}
