/*
Package dsl provides a fluent builder for device state graphs.

It is an alternative to YAML device definitions when the graph is known at compile time,
and keeps the graph next to the code that drives it.

Example usage:

	g, err := dsl.New("ios").
		State("login", `Username:\s*$`).
		Go("user", "{{username}}").AnswerSecret(`Password:\s*$`, domain.KeyPassword).
		State("user", `\w>\s*$`).
		Go("enabled", "enable").AnswerSecret(`Password:\s*$`, domain.KeyEnablePassword).
		Go("login", "exit").
		State("enabled", `\w#\s*$`).
		Go("config", "configure terminal").
		Go("user", "disable").
		State("config", `\(config\)#\s*$`).
		Go("enabled", "end").
		Build()
*/
package dsl
