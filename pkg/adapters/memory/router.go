package memory

import (
	"fmt"
	"strings"
	"sync"
)

// Router modes.
const (
	ModeUsername       = "username"
	ModePassword       = "password"
	ModeUser           = "user"
	ModeEnablePassword = "enable_password"
	ModeEnabled        = "enabled"
	ModeConfig         = "config"
	ModeConfigIf       = "config_if"
)

// InvalidInput is the marker the router prints for unknown commands.
const InvalidInput = "% Invalid input detected at '^' marker."

// Router simulates an IOS-like appliance behind a console: username/password
// login, user and enabled exec modes, enable password, global and interface
// configuration, and a --More-- pager on "show running-config".
type Router struct {
	mu sync.Mutex

	hostname       string
	username       string
	password       string
	enablePassword string
	keepMode       bool
	silent         bool

	mode      string
	more      string
	config    []string
	connects  int
	console   *Console
	responses map[string]string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithHostname sets the hostname shown in prompts (default "Router").
func WithHostname(name string) RouterOption {
	return func(r *Router) { r.hostname = name }
}

// WithEnablePassword sets the enable secret (default: same as the login password).
func WithEnablePassword(secret string) RouterOption {
	return func(r *Router) { r.enablePassword = secret }
}

// WithKeepMode makes reconnects land in the mode the device was left in, like a
// console server line. By default each connection starts at the username prompt.
func WithKeepMode() RouterOption {
	return func(r *Router) { r.keepMode = true }
}

// WithSilentConnect suppresses the prompt normally printed on connect.
func WithSilentConnect() RouterOption {
	return func(r *Router) { r.silent = true }
}

// WithResponse registers canned output for an exec command.
func WithResponse(command, output string) RouterOption {
	return func(r *Router) { r.responses[command] = output }
}

// NewRouter creates a simulated router accepting username/password.
func NewRouter(username, password string, opts ...RouterOption) *Router {
	r := &Router{
		hostname:  "Router",
		username:  username,
		password:  password,
		mode:      ModeUsername,
		responses: map[string]string{"show version": "IOS Software, Version 15.2(4)M\r\n"},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.enablePassword == "" {
		r.enablePassword = password
	}
	return r
}

// Connect opens a new console line to the router, replacing any previous one.
func (r *Router) Connect() *Console {
	c := NewConsole(r.respond)
	c.onRaw = r.raw

	r.mu.Lock()
	r.connects++
	r.console = c
	if !r.keepMode {
		r.mode = ModeUsername
	}
	r.more = ""
	prompt := r.promptLocked()
	silent := r.silent
	r.mu.Unlock()

	if !silent {
		c.Print(prompt)
	}
	return c
}

// Console returns the current console line.
func (r *Router) Console() *Console {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.console
}

// Mode returns the current CLI mode.
func (r *Router) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetMode forces the CLI mode.
func (r *Router) SetMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Connects returns how many console lines were opened.
func (r *Router) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

// Hostname returns the configured hostname.
func (r *Router) Hostname() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostname
}

// RunningConfig returns the configuration lines applied so far.
func (r *Router) RunningConfig() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.config...)
}

func (r *Router) promptLocked() string {
	switch r.mode {
	case ModeUsername:
		return "\r\nUsername: "
	case ModePassword, ModeEnablePassword:
		return "Password: "
	case ModeUser:
		return "\r\n" + r.hostname + ">"
	case ModeEnabled:
		return "\r\n" + r.hostname + "#"
	case ModeConfig:
		return "\r\n" + r.hostname + "(config)#"
	case ModeConfigIf:
		return "\r\n" + r.hostname + "(config-if)#"
	}
	return "\r\n"
}

func (r *Router) raw(b byte) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.more == "" {
		return "", false
	}
	switch b {
	case ' ':
		rest := r.more
		r.more = ""
		return "\b\b\b\b\b\b\b\b        \b\b\b\b\b\b\b\b" + rest + r.promptLocked(), true
	case 'q':
		r.more = ""
		return r.promptLocked(), true
	}
	return "", true
}

func (r *Router) respond(line string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := strings.TrimSpace(line)
	echo := line + "\r\n"

	switch r.mode {
	case ModeUsername:
		if cmd == "" {
			return r.promptLocked()
		}
		if cmd != r.username {
			r.mode = ModeUsername
			return echo + "% Login invalid\r\n" + r.promptLocked()
		}
		r.mode = ModePassword
		return echo + r.promptLocked()

	case ModePassword:
		if cmd != r.password {
			r.mode = ModeUsername
			return "\r\n% Login invalid\r\n" + r.promptLocked()
		}
		r.mode = ModeUser
		return "\r\n" + r.promptLocked()

	case ModeEnablePassword:
		if cmd != r.enablePassword {
			r.mode = ModeUser
			return "\r\n% Access denied\r\n" + r.promptLocked()
		}
		r.mode = ModeEnabled
		return r.promptLocked()
	}

	if cmd == "" {
		return echo + r.promptLocked()[2:]
	}

	switch r.mode {
	case ModeUser:
		switch cmd {
		case "enable":
			r.mode = ModeEnablePassword
			return echo + r.promptLocked()
		case "exit", "logout":
			r.mode = ModeUsername
			return echo + r.promptLocked()
		}
		return echo + r.execLocked(cmd) + r.promptLocked()

	case ModeEnabled:
		switch cmd {
		case "configure terminal", "conf t":
			r.mode = ModeConfig
			return echo + "Enter configuration commands, one per line.  End with CNTL/Z." + r.promptLocked()
		case "disable":
			r.mode = ModeUser
			return echo + r.promptLocked()
		case "exit", "logout":
			r.mode = ModeUsername
			return echo + r.promptLocked()
		case "show running-config":
			return echo + r.runningConfigLocked()
		}
		return echo + r.execLocked(cmd) + r.promptLocked()

	case ModeConfig, ModeConfigIf:
		switch {
		case cmd == "end":
			r.mode = ModeEnabled
			return echo + r.promptLocked()
		case cmd == "exit" && r.mode == ModeConfigIf:
			r.mode = ModeConfig
			return echo + r.promptLocked()
		case cmd == "exit":
			r.mode = ModeEnabled
			return echo + r.promptLocked()
		case strings.HasPrefix(cmd, "hostname "):
			r.hostname = strings.TrimSpace(strings.TrimPrefix(cmd, "hostname "))
			r.config = append(r.config, cmd)
			return echo + r.promptLocked()
		case strings.HasPrefix(cmd, "interface "):
			r.mode = ModeConfigIf
			r.config = append(r.config, cmd)
			return echo + r.promptLocked()
		case isConfigCommand(cmd):
			r.config = append(r.config, cmd)
			return echo + r.promptLocked()
		}
		return echo + "              ^\r\n" + InvalidInput + "\r\n" + r.promptLocked()
	}
	return echo + r.promptLocked()
}

func (r *Router) execLocked(cmd string) string {
	if out, ok := r.responses[cmd]; ok {
		return out
	}
	return "              ^\r\n" + InvalidInput + "\r\n"
}

func (r *Router) runningConfigLocked() string {
	body := fmt.Sprintf("Building configuration...\r\n\r\nhostname %s\r\n", r.hostname)
	for _, l := range r.config {
		if !strings.HasPrefix(l, "hostname ") {
			body += l + "\r\n"
		}
	}
	body += "end\r\n"
	r.more = body
	return "Current configuration:\r\n --More-- "
}

var configVerbs = []string{"description", "ip ", "no ", "shutdown", "logging", "ntp ", "snmp-server", "username", "banner", "commit"}

func isConfigCommand(cmd string) bool {
	for _, v := range configVerbs {
		if strings.HasPrefix(cmd, v) {
			return true
		}
	}
	return false
}
