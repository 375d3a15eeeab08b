package promptgraph_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/promptgraph"
	"github.com/aretw0/promptgraph/pkg/adapters/memory"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
)

const definition = `
name: ios
entry: login
states:
  - {name: login, prompt: 'Username:\s*$'}
  - {name: user, prompt: '\w>\s*$'}
  - {name: enabled, prompt: '\w#\s*$'}
dialogs:
  login:
    - {pattern: 'Password:\s*$', send_context: password}
  enable:
    - {pattern: 'Password:\s*$', send_context: enable_password}
paths:
  - {from: login, to: user, command: '{{username}}', dialog: login}
  - {from: user, to: enabled, command: enable, dialog: enable}
  - {from: enabled, to: user, command: disable}
  - {from: user, to: login, command: exit}
`

// ExampleDevice_Open runs a command against the in-memory router.
func ExampleDevice_Open() {
	dev, err := promptgraph.Parse([]byte(definition))
	if err != nil {
		log.Fatal(err)
	}

	router := memory.NewRouter("admin", "secret")
	ctx := context.Background()
	s, err := dev.Open(ctx, memory.RouterSpawner(router),
		session.WithCredentials(domain.Credentials{Username: "admin", Password: "secret", EnablePassword: "secret"}),
		session.WithProbeWait(50*time.Millisecond),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	enabled, _ := dev.Graph().State("enabled")
	out, err := s.Execute(ctx, "show version", session.InState(enabled))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out)
	fmt.Println(s.Current().Name)
	// Output:
	// IOS Software, Version 15.2(4)M
	// enabled
}

// ExampleDevice_Validate reports structural problems of a definition.
func ExampleDevice_Validate() {
	dev, err := promptgraph.Parse([]byte(`
name: broken
entry: login
states:
  - {name: login, prompt: 'Username:\s*$'}
  - {name: user, prompt: '\w>\s*$'}
  - {name: rommon, prompt: 'rommon \d+ >'}
paths:
  - {from: login, to: user, command: '{{username}}'}
  - {from: user, to: login, command: exit}
  - {from: rommon, to: login, command: boot}
`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(dev.Validate())
	// Output:
	// found 1 errors:
	// - Unreachable state: 'rommon'
}
