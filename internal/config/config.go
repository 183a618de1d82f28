// Package config loads the top-level supervisor configuration and
// per-tunnel descriptor files. Both are plain key/value-per-line INI-style
// files; no third-party INI library is used because none appears anywhere
// in the reference stack this project was built from.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrMissingKeyfile is returned by LoadDescriptor when the descriptor does
// not name a client private key, or the named file cannot be read.
var ErrMissingKeyfile = errors.New("config: descriptor missing readable keyfile")

// ErrMissingRequiredKey is returned when a required key is absent from a
// section.
var ErrMissingRequiredKey = errors.New("config: missing required key")

const descriptorSuffix = ".ini"

// EnvTopLevelPath names the environment variable a Worker process reads to
// find the top-level config it should build its AlertSenders from — set by
// the Supervisor when it spawns each Worker (see internal/procworker).
const EnvTopLevelPath = "TUNNELSUPERVISOR_CONFIG_INI"

// Descriptor is the immutable, per-tunnel configuration loaded from one
// descriptor file. Its field names follow the tunnel data model rather than
// the INI keys; for example LocalHost and LocalPort are read from
// remote_host and remote_port.
type Descriptor struct {
	// Path is the absolute path of the file this descriptor was loaded from.
	Path string

	Name string // connector_name / tunnel_name; defaults to Path

	ServerHost string
	ServerPort int

	// ServerKeyPath is an optional known-hosts-style file naming the
	// rendezvous server's expected public key, resolved relative to the
	// descriptor's directory. Empty means "no trust on first use": connect
	// must fail if the host key is unknown.
	ServerKeyPath string

	Username      string
	ClientKeyPath string // keyfile, resolved relative to the descriptor's directory

	ServerPortToForward int // port

	LocalHost string // remote_host
	LocalPort int     // remote_port

	KeepAliveInterval time.Duration // keep_alive_time, seconds

	LogLevel     string
	LogToConsole bool
	LogPath      string
}

// TopLevelConfig is the `[pytun]` top-level configuration.
type TopLevelConfig struct {
	Path string

	TunnelManagerID string // required

	TunnelDirs   string
	LogPath      string
	LogLevel     string
	LogToConsole bool

	InspectionPort          int
	InspectionLocalhostOnly bool

	SMTP SMTPConfig
	HTTP HTTPConfig
}

// SMTPConfig carries the optional SMTP alert-backend configuration. A zero
// value (empty Host) means "SMTP alerting is not configured".
type SMTPConfig struct {
	Host     string
	Port     int
	Login    string
	Password string
	To       string
	From     string
	Security string // none | tls | ssl
}

// HTTPConfig carries the optional HTTP POST alert-backend configuration.
type HTTPConfig struct {
	URL      string
	User     string
	Password string
}

// section is a parsed INI section: lowercase key -> raw value.
type section map[string]string

// LoadTopLevel reads path and returns the `[pytun]` section as a
// TopLevelConfig. tunnel_dirs is resolved relative to path's directory
// when not absolute.
func LoadTopLevel(path string) (*TopLevelConfig, error) {
	sections, err := parseINI(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	sec, ok := sections["pytun"]
	if !ok {
		return nil, fmt.Errorf("config: %s has no [pytun] section", path)
	}

	id := sec["tunnel_manager_id"]
	if id == "" {
		return nil, fmt.Errorf("config: %s: %w: tunnel_manager_id", path, ErrMissingRequiredKey)
	}

	dir := filepath.Dir(path)
	tunnelDirs := sec.getDefault("tunnel_dirs", "configs")
	if !filepath.IsAbs(tunnelDirs) {
		tunnelDirs = filepath.Join(dir, tunnelDirs)
	}

	cfg := &TopLevelConfig{
		Path:                    path,
		TunnelManagerID:         id,
		TunnelDirs:              tunnelDirs,
		LogPath:                 sec.getDefault("log_path", "./logs"),
		LogLevel:                sec.getDefault("log_level", "INFO"),
		LogToConsole:            sec.getBool("log_to_console", false),
		InspectionPort:          sec.getInt("inspection_port", 0),
		InspectionLocalhostOnly: sec.getBool("inspection_localhost_only", true),
		SMTP: SMTPConfig{
			Host:     sec["smtp_hostname"],
			Port:     sec.getInt("smtp_port", 25),
			Login:    sec["smtp_login"],
			Password: sec["smtp_password"],
			To:       sec["smtp_to"],
			From:     sec.getDefault("smtp_from", sec["smtp_login"]),
			Security: sec.getDefault("smtp_security", "none"),
		},
		HTTP: HTTPConfig{
			URL:      sec["http_url"],
			User:     sec["http_user"],
			Password: sec["http_password"],
		},
	}
	return cfg, nil
}

// DiscoverDescriptors lists descriptor files (suffix ".ini") directly under dir.
func DiscoverDescriptors(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read tunnel_dirs %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), descriptorSuffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// LoadDescriptor reads one descriptor file. It accepts either a
// `[connector]` or `[tunnel]` section (connector takes precedence when both
// are present). keyfile and server_key are resolved relative to the
// descriptor's own directory. A missing or unreadable keyfile is a
// construction-time error, never deferred to connect time.
func LoadDescriptor(path string) (*Descriptor, error) {
	sections, err := parseINI(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	sec, ok := sections["connector"]
	if !ok {
		sec, ok = sections["tunnel"]
	}
	if !ok {
		return nil, fmt.Errorf("config: %s has neither [connector] nor [tunnel] section", path)
	}

	dir := filepath.Dir(path)

	keyfile := sec["keyfile"]
	if keyfile == "" {
		return nil, fmt.Errorf("config: %s: %w", path, ErrMissingKeyfile)
	}
	if !filepath.IsAbs(keyfile) {
		keyfile = filepath.Join(dir, keyfile)
	}
	kf, err := os.Open(keyfile)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w: %v", path, ErrMissingKeyfile, err)
	}
	_ = kf.Close()

	serverKey := sec["server_key"]
	if serverKey != "" && !filepath.IsAbs(serverKey) {
		serverKey = filepath.Join(dir, serverKey)
	}

	name := sec["connector_name"]
	if name == "" {
		name = sec["tunnel_name"]
	}
	if name == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		name = abs
	}

	if sec["server_host"] == "" {
		return nil, fmt.Errorf("config: %s: %w: server_host", path, ErrMissingRequiredKey)
	}
	if sec["username"] == "" {
		return nil, fmt.Errorf("config: %s: %w: username", path, ErrMissingRequiredKey)
	}
	if sec["remote_host"] == "" {
		return nil, fmt.Errorf("config: %s: %w: remote_host", path, ErrMissingRequiredKey)
	}
	if sec["port"] == "" {
		return nil, fmt.Errorf("config: %s: %w: port", path, ErrMissingRequiredKey)
	}

	d := &Descriptor{
		Path:                path,
		Name:                name,
		ServerHost:          sec["server_host"],
		ServerPort:          sec.getInt("server_port", 22),
		ServerKeyPath:       serverKey,
		Username:            sec["username"],
		ClientKeyPath:       keyfile,
		ServerPortToForward: sec.getInt("port", 4000),
		LocalHost:           sec["remote_host"],
		LocalPort:           sec.getInt("remote_port", 22),
		KeepAliveInterval:   time.Duration(sec.getInt("keep_alive_time", 30)) * time.Second,
		LogLevel:            sec.getDefault("log_level", "DEBUG"),
		LogToConsole:        sec.getBool("log_to_console", false),
		LogPath:             sec.getDefault("log_path", "./logs"),
	}
	return d, nil
}

func (s section) getDefault(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

func (s section) getInt(key string, def int) int {
	v, ok := s[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s section) getBool(key string, def bool) bool {
	v, ok := s[key]
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// parseINI is a minimal key/value-per-line INI reader: "[section]" headers,
// "key = value" or "key: value" body lines, "#" and ";" comments, blank
// lines ignored. No nesting, no multi-line values, no interpolation — the
// descriptor and top-level config formats never use any of those.
func parseINI(path string) (map[string]section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sections := make(map[string]section)
	var current section

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			current = make(section)
			sections[name] = current
			continue
		}
		if current == nil {
			continue // stray key before any section header
		}
		key, value, ok := splitKV(line)
		if !ok {
			continue
		}
		current[strings.ToLower(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sections, nil
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, "=:")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}
