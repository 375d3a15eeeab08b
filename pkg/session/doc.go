/*
Package session drives a device through its state graph over one connection.

A Session owns the transport, the last confirmed state and the dialog context.
It routes between states, runs commands and configuration with output checks,
verifies results with bounded retries and, when a reconnect policy is set,
respawns a lost connection and walks the device back to where it was.

A Manager keeps named sessions and serializes access to each device, across
processes when a distributed locker is configured.
*/
package session
