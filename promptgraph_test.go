package promptgraph_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/promptgraph"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o600))

	dev, err := promptgraph.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ios", dev.Graph().Name())
	assert.Equal(t, "login", dev.Entry().Name)
	assert.NoError(t, dev.Validate())

	chart := dev.Mermaid()
	assert.True(t, strings.HasPrefix(chart, "graph TD"))
	assert.Contains(t, chart, "login((")

	_, err = promptgraph.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDevice_Dial(t *testing.T) {
	var hops int
	dev, err := promptgraph.Parse([]byte(definition), promptgraph.WithLifecycleHooks(domain.LifecycleHooks{
		OnTransition: func(context.Context, *domain.TransitionEvent) { hops++ },
	}))
	require.NoError(t, err)

	ctx := context.Background()
	s, err := dev.Dial(ctx, "memory", map[string]any{"username": "ops", "password": "pw"},
		session.WithCredentials(domain.Credentials{Username: "ops", Password: "pw", EnablePassword: "pw"}),
		session.WithProbeWait(50*time.Millisecond),
	)
	require.NoError(t, err)
	defer s.Close()

	enabled, err := dev.Graph().State("enabled")
	require.NoError(t, err)
	require.NoError(t, s.GoTo(ctx, enabled))
	assert.Equal(t, 2, hops)

	_, err = dev.Dial(ctx, "telnet", nil)
	assert.ErrorContains(t, err, "host is required")
}

func TestParse_Invalid(t *testing.T) {
	_, err := promptgraph.Parse([]byte("states: []"))
	assert.ErrorContains(t, err, "missing name")
}
