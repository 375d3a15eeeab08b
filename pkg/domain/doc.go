/*
Package domain contains the core types of the prompt graph engine.

It is kept free of I/O: transports, dialogs and graphs live in their own packages
and build on the values declared here.

# Key Entities

  - State: a CLI mode identified by a prompt pattern. Unknown and Any are sentinels.
  - Context: typed scratch space shared by dialog actions (credentials, counters).
  - Errors: the error taxonomy returned by transports, dialogs, transitions and retries.
  - LifecycleHooks: callbacks for transitions, commands and reconnects.
*/
package domain
