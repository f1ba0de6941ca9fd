/*
Package loom is the core of an infinite-canvas display server: windows and free-standing notes are nodes on one unbounded two-dimensional plane, each output looks at that plane through its own pan and zoom, and nodes can be linked by typed connections.

# Concept

An Engine owns one canvas and runs it on a single event loop. The node registry, spatial index, connection graph and viewports change only inside loop tasks, so every mutation is atomic with respect to the index update and the events it publishes. Transports (HTTP, WebSocket, MCP) and collaborators (the surface compositor, the input stack) submit tasks and wait for the result on their own context.

# Key Features

  - Spatial queries: region queries and hit tests over a quadtree, ordered bottom to top.
  - Connections: data, reference and temporal edges that never outlive their endpoints.
  - Event subscriptions: per-client bounded queues with kind and region filters; overflow drops the oldest events and says so.
  - Protocol clients: a connect, authorize, activate handshake with per-client resource limits.
  - Persistence: snapshots of the durable canvas state in YAML files or Redis, restored on start.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/loomwm/loom"
		"github.com/loomwm/loom/pkg/adapters/memory"
		"github.com/loomwm/loom/pkg/domain"
	)

	func main() {
		eng, err := loom.New(loom.DefaultConfig(), loom.WithStore(memory.NewStore()))
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go eng.Run(ctx)

		// A client surface committing its first buffer becomes a node
		// centred on the primary output.
		id, err := eng.CommitSurface(ctx, domain.SurfaceCommit{
			Surface: "term-1", Client: "foot", Width: 800, Height: 600,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("surface is node %d", id)
	}

Protocol clients go through Engine.Dispatcher, usually via one of the adapters in pkg/adapters.
*/
package loom
