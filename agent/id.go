package agent

import (
	"fmt"
	"strings"

	"github.com/c360/agentruntime/errors"
)

// AgentId identifies exactly one logical actor instance. The Type names the
// registered agent kind; the Key discriminates instances of that kind. Ids
// are immutable values and safe to use as map keys.
type AgentId struct {
	Type string
	Key  string
}

// NewAgentId builds a validated AgentId
func NewAgentId(agentType, key string) (AgentId, error) {
	if err := validateIdPart("agent type", agentType); err != nil {
		return AgentId{}, err
	}
	if err := validateIdPart("agent key", key); err != nil {
		return AgentId{}, err
	}
	return AgentId{Type: agentType, Key: key}, nil
}

// String renders the id as "type/key"
func (id AgentId) String() string {
	return id.Type + "/" + id.Key
}

// IsZero reports whether the id carries no value
func (id AgentId) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// TopicId identifies a publication channel instance. The Type is matched
// against subscriptions; the Source typically becomes the routed agent's Key.
type TopicId struct {
	Type   string
	Source string
}

// NewTopicId builds a validated TopicId
func NewTopicId(topicType, source string) (TopicId, error) {
	if err := validateIdPart("topic type", topicType); err != nil {
		return TopicId{}, err
	}
	if err := validateIdPart("topic source", source); err != nil {
		return TopicId{}, err
	}
	return TopicId{Type: topicType, Source: source}, nil
}

// String renders the topic as "type/source"
func (t TopicId) String() string {
	return t.Type + "/" + t.Source
}

// IsZero reports whether the topic carries no value
func (t TopicId) IsZero() bool {
	return t.Type == "" && t.Source == ""
}

// DefaultTopicType returns the canonical topic type for an agent instance:
// agentType + "." + agentKey. This is the one convention used everywhere an
// agent needs a topic of its own; callers must not invent variants.
func DefaultTopicType(id AgentId) string {
	return id.Type + "." + id.Key
}

// Metadata is a read-only descriptive view of an activated agent
type Metadata struct {
	Type        string `json:"type"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

func validateIdPart(field, value string) error {
	if value == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%s must not be empty", field),
			"agent", "validateIdPart", "id validation")
	}
	if strings.ContainsAny(value, "/\n") {
		return errors.WrapInvalid(
			fmt.Errorf("%s %q contains reserved characters", field, value),
			"agent", "validateIdPart", "id validation")
	}
	return nil
}
