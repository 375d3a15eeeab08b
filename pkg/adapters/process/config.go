package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes a console reached by running a local program, such as
// telnet to a terminal server or a vendor console client.
type Config struct {
	Name        string            `yaml:"name" json:"name" mapstructure:"name"`
	Command     string            `yaml:"command" json:"command" mapstructure:"command"`
	Args        []string          `yaml:"args" json:"args" mapstructure:"args"`
	Environment map[string]string `yaml:"env" json:"env" mapstructure:"env"`
	Dir         string            `yaml:"dir" json:"dir" mapstructure:"dir"`
}

// Telnet returns the configuration of a telnet client connecting to host:port.
func Telnet(host string, port int) Config {
	args := []string{host}
	if port > 0 {
		args = append(args, strconv.Itoa(port))
	}
	return Config{Name: "telnet://" + host + ":" + strconv.Itoa(port), Command: "telnet", Args: args}
}

func (c Config) String() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// ConfigFile is the structure of a consoles file.
type ConfigFile struct {
	Consoles []Config `yaml:"consoles" json:"consoles"`
}

// LoadConfigs reads a consoles file (YAML or JSON) and returns the consoles by name.
// A missing file yields an empty map.
func LoadConfigs(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Config{}, nil
		}
		return nil, fmt.Errorf("failed to read consoles config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	consoles := make(map[string]Config)
	for _, c := range cfg.Consoles {
		if c.Name == "" || c.Command == "" {
			continue
		}
		consoles[c.Name] = c
	}
	return consoles, nil
}
