// Package registry binds the engine's collaborator interfaces to
// configuration: ClientRegistry resolves and invokes reasoning clients,
// ToolRegistry holds host-registered tools, and the flow repositories map an
// agent ID to its role bindings.
package registry
