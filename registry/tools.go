package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/martinemde/autoagent/unifiedllm"
)

// ToolRegistry holds host-registered tools by name. Clients refer to them
// through ClientConfig.Tools.
type ToolRegistry struct {
	tools map[string]unifiedllm.Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates a ToolRegistry holding tools.
func NewToolRegistry(tools ...unifiedllm.Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]unifiedllm.Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool unifiedllm.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Lookup returns the tools named, in order. Every name must be registered.
func (r *ToolRegistry) Lookup(names []string) ([]unifiedllm.Tool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]unifiedllm.Tool, 0, len(names))
	var missing []string
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tools not registered: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
