package dialog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/pkg/adapters/memory"
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsole(t *testing.T, respond memory.Responder) (*memory.Console, *transport.Stream) {
	t.Helper()
	c := memory.NewConsole(respond)
	s := transport.New(c)
	t.Cleanup(func() { _ = s.Close() })
	return c, s
}

func record(fired *[]string, name string) dialog.Action {
	return func(context.Context, ports.Transport, *domain.Context, ports.MatchResult) error {
		*fired = append(*fired, name)
		return nil
	}
}

func TestProcess_EmptyDialogIsNoop(t *testing.T) {
	c, s := newConsole(t, nil)

	summary, err := dialog.New().Process(context.Background(), s, time.Second, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Fired)
	assert.Zero(t, c.Writes())

	var nilDialog *dialog.Dialog
	_, err = nilDialog.Process(context.Background(), s, time.Second, nil)
	assert.NoError(t, err)
}

func TestProcess_ListOrderPrecedence(t *testing.T) {
	c, s := newConsole(t, nil)
	c.Print("Save configuration? [yes/no]: ")

	var fired []string
	d := dialog.New(
		dialog.MustRule(`\[yes/no\]`, record(&fired, "first"), dialog.Terminal()),
		dialog.MustRule(`configuration\?`, record(&fired, "second"), dialog.Terminal()),
	)
	summary, err := d.Process(context.Background(), s, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, fired)
	require.NotNil(t, summary.Terminal)
	assert.Equal(t, `\[yes/no\]`, summary.Terminal.Name)
}

func TestProcess_RepeatAndResetTimer(t *testing.T) {
	pages := 0
	c, s := newConsole(t, nil)
	c.Print("line1\r\n --More-- ")

	more := func(_ context.Context, t ports.Transport, _ *domain.Context, _ ports.MatchResult) error {
		pages++
		if pages < 3 {
			c.Print("lineN\r\n --More-- ")
		} else {
			c.Print("last\r\nRouter#")
		}
		return nil
	}

	d := dialog.New(
		dialog.MustRule(`--More--\s*`, more, dialog.Repeat(), dialog.ResetTimer(), dialog.Named("pager")),
		dialog.MustRule(`Router#$`, nil, dialog.Terminal(), dialog.Named("prompt")),
	)
	summary, err := d.Process(context.Background(), s, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Len(t, summary.Fired, 4)
	assert.Contains(t, summary.Output, "last\r\nRouter#")

	last, ok := summary.Last()
	require.True(t, ok)
	assert.Equal(t, "prompt", last.Rule)
}

func TestProcess_NonRepeatRuleFiresOnce(t *testing.T) {
	c, s := newConsole(t, func(line string) string {
		if line == "secret" {
			return "\r\nPassword: "
		}
		return ""
	})
	c.Print("Password: ")

	dc := domain.NewContext()
	domain.Set(dc, domain.KeyPassword, "secret")

	d := dialog.New(
		dialog.MustRule(`Password:\s*$`, dialog.SendContext(domain.KeyPassword)),
		dialog.MustRule(`#$`, nil, dialog.Terminal()),
	)
	_, err := d.Process(context.Background(), s, 100*time.Millisecond, dc)

	var timeout *domain.DialogTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, []string{`Password:\s*$`}, timeout.Fired)
	assert.Contains(t, timeout.Buffer, "Password: ")
	assert.Equal(t, []string{"secret"}, c.Lines(), "password is sent only once")
}

func TestProcess_EndsWhenRulesExhausted(t *testing.T) {
	c, s := newConsole(t, nil)
	c.Print("Proceed? [confirm]")

	d := dialog.New(dialog.MustRule(`\[confirm\]`, dialog.SendLine("")))
	summary, err := d.Process(context.Background(), s, time.Second, nil)
	require.NoError(t, err)
	assert.Nil(t, summary.Terminal)
	assert.Equal(t, []string{""}, c.Lines())
}

func TestProcess_ActionErrorAborts(t *testing.T) {
	c, s := newConsole(t, nil)
	c.Print("% Access denied")

	denied := errors.New("denied")
	d := dialog.New(
		dialog.MustRule(`Access denied`, dialog.Fail(denied)),
		dialog.MustRule(`#$`, nil, dialog.Terminal()),
	)
	_, err := d.Process(context.Background(), s, time.Second, nil)
	assert.ErrorIs(t, err, denied)
}

func TestProcess_TransportErrorPropagates(t *testing.T) {
	c, s := newConsole(t, nil)
	c.Fail(domain.ErrInputOutput)

	d := dialog.New(dialog.MustRule(`#$`, nil, dialog.Terminal()))
	_, err := d.Process(context.Background(), s, time.Second, nil)

	var ioErr *domain.TransportIOError
	require.ErrorAs(t, err, &ioErr)
}

func TestDialog_AppendAndWith(t *testing.T) {
	a := dialog.New(dialog.MustRule(`a`, nil))
	b := dialog.New(dialog.MustRule(`b`, nil))

	merged := a.Append(nil, b).With(dialog.MustRule(`c`, nil))
	assert.Equal(t, 3, merged.Len())
	assert.Equal(t, 1, a.Len(), "originals are untouched")

	names := []string{}
	for _, r := range merged.Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	_, err := dialog.NewRule(`(`, nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	dc := domain.NewContext()
	domain.Set(dc, domain.KeyUsername, "admin")

	out, err := dialog.Expand("user {{ username }}", dc)
	require.NoError(t, err)
	assert.Equal(t, "user admin", out)

	_, err = dialog.Expand("{{password}}", dc)
	assert.Error(t, err)
}

func TestSendTemplate(t *testing.T) {
	c, s := newConsole(t, nil)
	dc := domain.NewContext()
	domain.Set(dc, domain.KeyUsername, "admin")

	err := dialog.SendTemplate("{{username}}", true)(context.Background(), s, dc, ports.MatchResult{})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, c.Lines())
}
