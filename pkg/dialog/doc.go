/*
Package dialog reacts to interactive device prompts.

A Dialog is an ordered list of rules (pattern + action). Process waits for any
active pattern, runs the action of the first rule in list order that matched, and
keeps going until a terminal rule fires or the budget runs out:

	login := dialog.New(
		dialog.MustRule(`[Pp]assword:\s*$`, dialog.SendContext(domain.KeyPassword)),
		dialog.MustRule(`--More--`, dialog.Send(" "), dialog.Repeat(), dialog.ResetTimer()),
		dialog.MustRule(`#\s*$`, nil, dialog.Terminal()),
	)
	summary, err := login.Process(ctx, t, 30*time.Second, dc)
*/
package dialog
