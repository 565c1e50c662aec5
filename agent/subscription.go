package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/agentruntime/errors"
)

// Subscription maps topics to the agent instances that handle them. A
// subscription's ID is generated at construction, is globally unique, and is
// the only valid handle for removal.
//
// MapToAgent is only defined for topics the subscription Matches; calling it
// with a non-matching topic is a caller error.
type Subscription interface {
	ID() string
	AgentType() string
	Matches(topic TopicId) bool
	MapToAgent(topic TopicId) (AgentId, error)
}

// TypeSubscription matches topics whose type equals TopicType exactly and
// routes them to AgentId(AgentType, topic.Source).
type TypeSubscription struct {
	id        string
	topicType string
	agentType string
}

// NewTypeSubscription creates an exact-type subscription with a fresh id
func NewTypeSubscription(topicType, agentType string) (*TypeSubscription, error) {
	if topicType == "" || agentType == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("topic type and agent type must not be empty"),
			"TypeSubscription", "NewTypeSubscription", "subscription validation")
	}
	return &TypeSubscription{
		id:        uuid.NewString(),
		topicType: topicType,
		agentType: agentType,
	}, nil
}

// RestoreTypeSubscription rebuilds a subscription with a known id, used when
// rehydrating persisted registry state. New subscriptions must use
// NewTypeSubscription so ids stay unique.
func RestoreTypeSubscription(id, topicType, agentType string) *TypeSubscription {
	return &TypeSubscription{id: id, topicType: topicType, agentType: agentType}
}

// ID returns the unique subscription id
func (s *TypeSubscription) ID() string { return s.id }

// AgentType returns the subscribing agent type
func (s *TypeSubscription) AgentType() string { return s.agentType }

// TopicType returns the exact topic type this subscription matches
func (s *TypeSubscription) TopicType() string { return s.topicType }

// Matches reports whether the topic's type equals the subscribed type
func (s *TypeSubscription) Matches(topic TopicId) bool {
	return topic.Type == s.topicType
}

// MapToAgent maps a matching topic to its handling agent instance
func (s *TypeSubscription) MapToAgent(topic TopicId) (AgentId, error) {
	if !s.Matches(topic) {
		return AgentId{}, errors.WrapInvalid(
			fmt.Errorf("topic %s does not match subscription %s", topic, s.id),
			"TypeSubscription", "MapToAgent", "topic match check")
	}
	return AgentId{Type: s.agentType, Key: topic.Source}, nil
}

// TypePrefixSubscription matches topics whose type starts with
// TopicTypePrefix and routes them to AgentId(AgentType, topic.Source).
type TypePrefixSubscription struct {
	id              string
	topicTypePrefix string
	agentType       string
}

// NewTypePrefixSubscription creates a prefix subscription with a fresh id
func NewTypePrefixSubscription(topicTypePrefix, agentType string) (*TypePrefixSubscription, error) {
	if topicTypePrefix == "" || agentType == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("topic type prefix and agent type must not be empty"),
			"TypePrefixSubscription", "NewTypePrefixSubscription", "subscription validation")
	}
	return &TypePrefixSubscription{
		id:              uuid.NewString(),
		topicTypePrefix: topicTypePrefix,
		agentType:       agentType,
	}, nil
}

// RestoreTypePrefixSubscription rebuilds a prefix subscription with a known
// id, used when rehydrating persisted registry state.
func RestoreTypePrefixSubscription(id, topicTypePrefix, agentType string) *TypePrefixSubscription {
	return &TypePrefixSubscription{id: id, topicTypePrefix: topicTypePrefix, agentType: agentType}
}

// ID returns the unique subscription id
func (s *TypePrefixSubscription) ID() string { return s.id }

// AgentType returns the subscribing agent type
func (s *TypePrefixSubscription) AgentType() string { return s.agentType }

// TopicTypePrefix returns the prefix this subscription matches against
func (s *TypePrefixSubscription) TopicTypePrefix() string { return s.topicTypePrefix }

// Matches reports whether the topic's type starts with the subscribed prefix
func (s *TypePrefixSubscription) Matches(topic TopicId) bool {
	return strings.HasPrefix(topic.Type, s.topicTypePrefix)
}

// MapToAgent maps a matching topic to its handling agent instance
func (s *TypePrefixSubscription) MapToAgent(topic TopicId) (AgentId, error) {
	if !s.Matches(topic) {
		return AgentId{}, errors.WrapInvalid(
			fmt.Errorf("topic %s does not match subscription %s", topic, s.id),
			"TypePrefixSubscription", "MapToAgent", "topic match check")
	}
	return AgentId{Type: s.agentType, Key: topic.Source}, nil
}
