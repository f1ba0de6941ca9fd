/*
Package domain contains the core domain models of the Loom canvas.

It defines the entities that live on the infinite canvas and the values that
cross the boundary to collaborators. This package is kept pure and free of
external dependencies like I/O or persistence.

# Key Entities

  - Node: A positioned, sized and rotatable canvas entity, optionally bound to a client surface.
  - Connection: A typed edge between two live nodes.
  - Event: A change notification delivered to subscribers, ordered by a global sequence number.
  - Snapshot: The durable part of a canvas, used by the persistence adapters.
  - RenderItem: One entry of the per-frame render list consumed by the rendering backend.
*/
package domain
