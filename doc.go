/*
Package promptgraph drives the command line of network appliances (routers,
switches, firewalls) through a graph of CLI modes.

Each mode is a state recognised by its prompt. Each edge is a command that moves
the device from one mode to another, optionally answering the questions it asks
on the way (passwords, confirmations, pagers). A session keeps track of where the
device is, finds the shortest way to where a command must run, and recovers when
the line drops.

# Usage

Describe the device once, in YAML:

	name: ios
	entry: login
	states:
	  - {name: login, prompt: 'Username:\s*$'}
	  - {name: user, prompt: '\w>\s*$'}
	  - {name: enabled, prompt: '\w#\s*$'}
	dialogs:
	  login:
	    - {pattern: 'Password:\s*$', send_context: password}
	paths:
	  - {from: login, to: user, command: '{{username}}', dialog: login}
	  - {from: user, to: enabled, command: enable}

Then open sessions over any transport:

	dev, err := promptgraph.Load("ios.yaml")
	if err != nil {
		log.Fatal(err)
	}
	s, err := dev.Dial(ctx, "ssh", map[string]any{"host": "10.0.0.1", "user": "admin", "password": pw},
		session.WithCredentials(domain.Credentials{Username: "admin", Password: pw}))
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	enabled, _ := dev.Graph().State("enabled")
	out, err := s.Execute(ctx, "show version", session.InState(enabled))

# Packages

  - pkg/session: sessions, command execution, verification and recovery.
  - pkg/graph and pkg/dsl: the state graph and a fluent way to build it in Go.
  - pkg/dialog: prompt/response rules.
  - pkg/transport and pkg/adapters: consoles over SSH, serial lines, local processes and an in-memory router.
  - pkg/adapters/http and pkg/adapters/prometheus: a JSON API and metrics.
*/
package promptgraph
