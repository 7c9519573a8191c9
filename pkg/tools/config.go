package tools

import (
	"fmt"
	"os"
	"strings"
	"time"

	scanerrors "scanpilot/pkg/errors"

	"gopkg.in/yaml.v3"
)

const (
	TargetPlaceholder = "{{target}}"
	URLPlaceholder    = "{{url}}"

	DefaultTimeout = 60 * time.Second
)

// Definition describes how to invoke one external scanner against a target.
type Definition struct {
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	Command        string   `yaml:"command" json:"command"`
	Args           []string `yaml:"args" json:"args"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeoutSeconds"`
}

type CatalogConfig struct {
	Tools []Definition `yaml:"tools"`
}

func (d Definition) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return scanerrors.NewConfigError("tools.name", d.Name, "tool name is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return scanerrors.NewConfigError("tools.command", d.Name, "tool command is required")
	}
	if d.TimeoutSeconds < 0 {
		return scanerrors.NewConfigError("tools.timeout_seconds", d.TimeoutSeconds, "timeout must not be negative")
	}
	return nil
}

// BuildArgs substitutes the target into the argument template. Bare hosts are
// turned into http:// URLs for {{url}}; targets that already carry a scheme
// are passed through.
func (d Definition) BuildArgs(target string) []string {
	url := target
	if !strings.Contains(target, "://") {
		url = "http://" + target
	}

	args := make([]string, len(d.Args))
	for i, arg := range d.Args {
		arg = strings.ReplaceAll(arg, TargetPlaceholder, target)
		arg = strings.ReplaceAll(arg, URLPlaceholder, url)
		args[i] = arg
	}
	return args
}

// DefaultDefinitions mirrors the scanners the dashboard offers.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:           "Nmap",
			Description:    "Service and version detection on the most common ports",
			Command:        "nmap",
			Args:           []string{"-sV", "-F", TargetPlaceholder},
			TimeoutSeconds: 60,
		},
		{
			Name:           "Nuclei",
			Description:    "Template based web vulnerability scanner",
			Command:        "nuclei",
			Args:           []string{"-u", URLPlaceholder, "-silent", "-nc"},
			TimeoutSeconds: 120,
		},
		{
			Name:           "Nikto",
			Description:    "Web server misconfiguration scanner",
			Command:        "nikto",
			Args:           []string{"-h", URLPlaceholder, "-Tuning", "1,2,3"},
			TimeoutSeconds: 60,
		},
		{
			Name:           "OpenVAS",
			Description:    "Full vulnerability assessment through gvm-cli",
			Command:        "gvm-cli",
			Args:           []string{"--gmp-username", "admin", "socket", "--xml", "<get_version/>"},
			TimeoutSeconds: 120,
		},
	}
}

func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog %s: %w", path, err)
	}

	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog %s: %w", path, err)
	}
	if len(cfg.Tools) == 0 {
		return nil, scanerrors.NewConfigError("tools", path, "catalog defines no tools")
	}

	for _, def := range cfg.Tools {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg.Tools, nil
}
