/*
Package ports defines the driven ports (interfaces) of the prompt graph engine.

These interfaces decouple the engine from concrete consoles and backends, so the
same session code drives a serial line, an SSH shell or an in-memory fake.

# Key Interfaces

  - Transport: expect-style character stream to a console.
  - Spawner: opens a Transport; kept by sessions to reconnect.
  - Publisher: fire-and-forget metrics boundary.
  - DistributedLocker: leases a console across runner instances.
*/
package ports
