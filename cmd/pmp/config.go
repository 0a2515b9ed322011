package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration derived from flags and the optional
// mapping file.
type Config struct {
	BindAddress   string
	RemoteAddress string
	Ports         []string
	ConfigFile    string
	RulesFile     string
	MetricsAddr   string
	Debug         bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AcceptTimeout  time.Duration
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	FlushGrace     time.Duration

	// Accept rates are clients per second; zero disables the limit.
	AcceptRate       float64
	GlobalAcceptRate float64
	AcceptBurst      int
	SockBuf          int

	Mappings []relay.Mapping
}

// mappingFile is the YAML layout of --config. Top-level bind and remote fill
// in mappings that leave them out.
type mappingFile struct {
	Bind     string          `yaml:"bind"`
	Remote   string          `yaml:"remote"`
	Mappings []relay.Mapping `yaml:"mappings"`
}

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("pmp", pflag.ContinueOnError)
	fs.StringVarP(&cfg.BindAddress, "bind", "b", "0.0.0.0", "bind address for the listening sockets")
	fs.StringVarP(&cfg.RemoteAddress, "remote", "r", "", "host or address to connect to")
	fs.StringArrayVarP(&cfg.Ports, "port", "p", nil, "local:remote port pair, repeat for more relays (a single port uses it for both)")
	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML file with named mappings")
	fs.StringVar(&cfg.RulesFile, "rules", "", "YAML rule file, reloaded when it changes")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics and health listen address (empty disables)")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for settings persistence (empty keeps settings in memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	fs.DurationVar(&cfg.AcceptTimeout, "accept-timeout", relay.DefaultAcceptTimeout, "bound on each accept wait")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", relay.DefaultPollInterval, "bound on each socket read or write wait")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", relay.DefaultConnectTimeout, "time limit for connecting to the remote")
	fs.DurationVar(&cfg.FlushGrace, "flush-grace", relay.DefaultFlushGrace, "time a closing socket may spend flushing queued data")
	fs.Float64Var(&cfg.AcceptRate, "accept-rate", 0, "clients accepted per second per relay (0 = unlimited)")
	fs.Float64Var(&cfg.GlobalAcceptRate, "accept-rate-global", 0, "clients accepted per second across all relays (0 = unlimited)")
	fs.IntVar(&cfg.AcceptBurst, "accept-burst", 5, "accept burst size for the rate limits")
	fs.IntVar(&cfg.SockBuf, "sockbuf", 0, "socket send and receive buffer size in bytes (0 = system default)")
	return fs
}

// loadConfig parses args and resolves the mappings. Usage goes to stderr.
func loadConfig(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := newFlagSet(&cfg)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pmp -r <remote> -p <local:remote> [-p ...] [flags]\n\nRelays TCP ports to a remote host and lets the operator inspect and tamper with the traffic.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	for _, p := range cfg.Ports {
		m, err := parsePortPair(p, cfg.BindAddress, cfg.RemoteAddress)
		if err != nil {
			return cfg, err
		}
		cfg.Mappings = append(cfg.Mappings, m)
	}
	if cfg.ConfigFile != "" {
		ms, err := readMappingFile(cfg.ConfigFile, cfg.BindAddress, cfg.RemoteAddress)
		if err != nil {
			return cfg, err
		}
		cfg.Mappings = append(cfg.Mappings, ms...)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.Mappings) == 0 {
		return fmt.Errorf("no relays configured: pass --port or --config")
	}
	seen := make(map[string]bool, len(c.Mappings))
	for _, m := range c.Mappings {
		if err := m.Validate(); err != nil {
			return err
		}
		if seen[m.Name] {
			return fmt.Errorf("mapping %s: %w", m.Name, relay.ErrDuplicateSession)
		}
		seen[m.Name] = true
	}
	if c.AcceptRate < 0 || c.GlobalAcceptRate < 0 {
		return fmt.Errorf("accept rates must not be negative")
	}
	if c.SockBuf < 0 {
		return fmt.Errorf("--sockbuf must not be negative")
	}
	return nil
}

// parsePortPair reads "local:remote" or a single port used for both.
func parsePortPair(s, bind, remote string) (relay.Mapping, error) {
	localText, remoteText, found := strings.Cut(s, ":")
	if !found {
		remoteText = localText
	}
	local, err := strconv.Atoi(localText)
	if err != nil {
		return relay.Mapping{}, fmt.Errorf("--port %q: bad local port", s)
	}
	rport, err := strconv.Atoi(remoteText)
	if err != nil {
		return relay.Mapping{}, fmt.Errorf("--port %q: bad remote port", s)
	}
	return relay.Mapping{
		Name:          "proxy_" + localText,
		BindAddress:   bind,
		BindPort:      local,
		RemoteAddress: remote,
		RemotePort:    rport,
	}, nil
}

func readMappingFile(path, bind, remote string) ([]relay.Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var mf mappingFile
	if err := dec.Decode(&mf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if mf.Bind != "" {
		bind = mf.Bind
	}
	if mf.Remote != "" {
		remote = mf.Remote
	}
	out := make([]relay.Mapping, 0, len(mf.Mappings))
	for i, m := range mf.Mappings {
		if m.Name == "" {
			return nil, fmt.Errorf("%s: mapping #%d has no name", path, i+1)
		}
		if m.BindAddress == "" {
			m.BindAddress = bind
		}
		if m.RemoteAddress == "" {
			m.RemoteAddress = remote
		}
		out = append(out, m)
	}
	return out, nil
}
