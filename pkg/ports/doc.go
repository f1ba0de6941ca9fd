/*
Package ports defines the driven ports (interfaces) of the Loom canvas.

These interfaces decouple the canvas core from external implementations, allowing
it to work with various snapshot backends and to be driven by any transport.

# Key Interfaces

  - SnapshotStore: Persists and loads canvas snapshots (memory, file, redis).
  - Locker: Provides distributed locking so only one daemon writes a canvas.
  - Executor: Runs a task on the canvas event loop.
*/
package ports
