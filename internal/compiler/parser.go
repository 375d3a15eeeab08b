package compiler

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeviceFile is the YAML form of a device definition.
//
//	name: ios
//	entry: login
//	config_state: config
//	states:
//	  - {name: login, prompt: 'Username:\s*$'}
//	  - {name: user, prompt: '\w>\s*$'}
//	dialogs:
//	  enable:
//	    - {pattern: 'Password:\s*$', send_context: enable_password}
//	paths:
//	  - {from: user, to: enabled, command: enable, dialog: enable}
type DeviceFile struct {
	Name        string               `yaml:"name"`
	Entry       string               `yaml:"entry"`
	ConfigState string               `yaml:"config_state"`
	States      []StateDef           `yaml:"states"`
	Dialogs     map[string][]RuleDef `yaml:"dialogs"`
	Paths       []PathDef            `yaml:"paths"`
	// Connect names the dialog run right after the transport opens, e.g. to press RETURN on a banner.
	Connect string     `yaml:"connect"`
	Markers MarkerDefs `yaml:"markers"`
}

// StateDef declares a CLI mode.
type StateDef struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// PathDef declares a command leading from one state to another.
type PathDef struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Command string `yaml:"command"`
	// Dialog names an entry of DeviceFile.Dialogs.
	Dialog string `yaml:"dialog"`
	// Answers are inline rules, consulted after the named dialog.
	Answers []RuleDef `yaml:"answers"`
}

// RuleDef declares a dialog rule. Actions run in the order sleep, send, send_line,
// send_context, fail.
type RuleDef struct {
	Name        string        `yaml:"name"`
	Pattern     string        `yaml:"pattern"`
	Sleep       time.Duration `yaml:"sleep"`
	Send        *string       `yaml:"send"`
	SendLine    *string       `yaml:"send_line"`
	SendContext string        `yaml:"send_context"`
	Fail        string        `yaml:"fail"`
	Repeat      bool          `yaml:"repeat"`
	ResetTimer  bool          `yaml:"reset_timer"`
	Terminal    bool          `yaml:"terminal"`
}

// MarkerDefs lists output patterns that flag failures.
type MarkerDefs struct {
	BadCommand []string `yaml:"bad_command"`
	BadConfig  []string `yaml:"bad_config"`
	// Disconnect lists substrings of transport errors that mean the line dropped.
	Disconnect []string `yaml:"disconnect"`
}

// Parse decodes a device definition. Unknown fields are rejected.
func Parse(data []byte) (*DeviceFile, error) {
	var df DeviceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil {
		return nil, fmt.Errorf("failed to parse device definition: %w", err)
	}
	if df.Name == "" {
		return nil, fmt.Errorf("device definition missing name")
	}
	return &df, nil
}

// Load reads, parses and compiles the definition at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	df, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def, err := Compile(df)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
