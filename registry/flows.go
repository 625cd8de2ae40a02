package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/autoagent/autoagent"
)

// StaticFlowRepository serves role bindings held in memory. Agent IDs match
// case-insensitively because viper lowercases map keys.
type StaticFlowRepository struct {
	flows map[string]map[autoagent.Role]string
}

var _ autoagent.FlowConfigRepository = (*StaticFlowRepository)(nil)

// NewStaticFlowRepository parses raw, keyed by agent ID then role name.
// Role names accept any spelling ParseRole does.
func NewStaticFlowRepository(raw map[string]map[string]string) (*StaticFlowRepository, error) {
	flows := make(map[string]map[autoagent.Role]string, len(raw))
	for agentID, bindings := range raw {
		roles := make(map[autoagent.Role]string, len(bindings))
		for name, clientID := range bindings {
			role, err := autoagent.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("flow %q: %w", agentID, err)
			}
			if strings.TrimSpace(clientID) == "" {
				return nil, fmt.Errorf("flow %q: role %s has no client", agentID, role)
			}
			roles[role] = clientID
		}
		flows[strings.ToLower(agentID)] = roles
	}
	return &StaticFlowRepository{flows: flows}, nil
}

// LoadRoleClientMap returns a copy of agentID's bindings. An unknown agent
// yields an empty map.
func (s *StaticFlowRepository) LoadRoleClientMap(_ context.Context, agentID string) (map[autoagent.Role]string, error) {
	bindings := s.flows[strings.ToLower(agentID)]
	out := make(map[autoagent.Role]string, len(bindings))
	for role, clientID := range bindings {
		out[role] = clientID
	}
	return out, nil
}

// Len returns the number of configured agents.
func (s *StaticFlowRepository) Len() int { return len(s.flows) }

// flowFile is the layout of a standalone flow file.
type flowFile struct {
	Flows map[string]map[string]string `yaml:"flows"`
}

// FileFlowRepository reads bindings from a YAML file on every load, so
// edits apply to the next run without a restart.
type FileFlowRepository struct {
	path string
}

var _ autoagent.FlowConfigRepository = (*FileFlowRepository)(nil)

// NewFileFlowRepository creates a repository over path.
func NewFileFlowRepository(path string) *FileFlowRepository {
	return &FileFlowRepository{path: path}
}

// LoadRoleClientMap reads the file and returns agentID's bindings.
func (f *FileFlowRepository) LoadRoleClientMap(ctx context.Context, agentID string) (map[autoagent.Role]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	var file flowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse flow file %s: %w", f.path, err)
	}
	static, err := NewStaticFlowRepository(file.Flows)
	if err != nil {
		return nil, fmt.Errorf("flow file %s: %w", f.path, err)
	}
	return static.LoadRoleClientMap(ctx, agentID)
}
