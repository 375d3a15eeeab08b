// Package runtime executes state transitions: probing an unknown device,
// picking a direct or hop-wise route, and confirming every hop's prompt
// before moving on.
package runtime
