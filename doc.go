// Package mcp implements a client for Model Context Protocol (MCP) tool servers that run
// as a child process and speak line-delimited JSON-RPC 2.0 over stdio.
//
// The client is built for hosts with a single-threaded, cooperative loop, such as an
// editor or a game engine that ticks once per frame. Only reading the peer's output
// blocks, and that happens on a goroutine of its own; every other step is a short,
// non-blocking call made from the host loop through Pump.Tick:
//
//	client := mcp.NewClient(mcp.Info{Name: "editor", Version: "1.0"}, mcp.Command{Path: "scene-server"})
//	pump := mcp.NewPump(client)
//	if err := client.Connect(); err != nil {
//		return err
//	}
//	// once per frame:
//	pump.Tick()
//	if client.State() == mcp.StateReady && call == nil {
//		call = client.CallTool("move_object", map[string]any{"name": "Cube"}, 5*time.Second)
//	}
//
// Hosts without a frame loop can use Pump.AwaitReady and Pump.Await, which tick until the
// outcome is known without sleeping in fixed steps.
package mcp
