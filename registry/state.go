package registry

import (
	"fmt"
	"slices"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
)

// Subscription kinds as persisted in snapshots
const (
	KindExact  = "exact"
	KindPrefix = "prefix"
)

// TypeDescriptor describes a registered agent type
type TypeDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SubscriptionRecord is the persisted form of a subscription. Subscriptions
// are polymorphic in memory; records flatten them for the snapshot.
type SubscriptionRecord struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	AgentType       string `json:"agent_type"`
	TopicType       string `json:"topic_type,omitempty"`
	TopicTypePrefix string `json:"topic_type_prefix,omitempty"`
}

// NewSubscriptionRecord flattens a subscription for persistence
func NewSubscriptionRecord(sub agent.Subscription) (SubscriptionRecord, error) {
	switch s := sub.(type) {
	case *agent.TypeSubscription:
		return SubscriptionRecord{
			ID:        s.ID(),
			Kind:      KindExact,
			AgentType: s.AgentType(),
			TopicType: s.TopicType(),
		}, nil
	case *agent.TypePrefixSubscription:
		return SubscriptionRecord{
			ID:              s.ID(),
			Kind:            KindPrefix,
			AgentType:       s.AgentType(),
			TopicTypePrefix: s.TopicTypePrefix(),
		}, nil
	default:
		return SubscriptionRecord{}, errors.WrapInvalid(
			fmt.Errorf("unsupported subscription type %T", sub),
			"registry", "NewSubscriptionRecord", "subscription flattening")
	}
}

// Subscription rehydrates the polymorphic subscription from a record
func (r SubscriptionRecord) Subscription() (agent.Subscription, error) {
	switch r.Kind {
	case KindExact:
		return agent.RestoreTypeSubscription(r.ID, r.TopicType, r.AgentType), nil
	case KindPrefix:
		return agent.RestoreTypePrefixSubscription(r.ID, r.TopicTypePrefix, r.AgentType), nil
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("unknown subscription kind %q for id %s", r.Kind, r.ID),
			"registry", "Subscription", "record rehydration")
	}
}

// topicKey is the match expression this record is indexed under in the
// directional maps: the exact topic type, or the prefix.
func (r SubscriptionRecord) topicKey() string {
	if r.Kind == KindExact {
		return r.TopicType
	}
	return r.TopicTypePrefix
}

// State is the whole registry snapshot: agent-type registrations, both
// directional topic maps, and the subscription index. The three subscription
// structures are only ever mutated together inside one CAS write cycle; a
// snapshot where they disagree is an invariant violation.
type State struct {
	AgentTypes     map[string]TypeDescriptor     `json:"agent_types"`
	AgentsToTopics map[string][]string           `json:"agents_to_topics"`
	TopicToAgents  map[string][]string           `json:"topic_to_agents"`
	Subscriptions  map[string]SubscriptionRecord `json:"subscriptions_by_id"`
}

// NewState creates an empty registry state
func NewState() *State {
	return &State{
		AgentTypes:     make(map[string]TypeDescriptor),
		AgentsToTopics: make(map[string][]string),
		TopicToAgents:  make(map[string][]string),
		Subscriptions:  make(map[string]SubscriptionRecord),
	}
}

// Clone returns a deep copy, the unit the CAS cycle computes next states on
func (s *State) Clone() *State {
	next := NewState()
	for name, desc := range s.AgentTypes {
		next.AgentTypes[name] = desc
	}
	for agentType, topics := range s.AgentsToTopics {
		next.AgentsToTopics[agentType] = slices.Clone(topics)
	}
	for topicKey, agents := range s.TopicToAgents {
		next.TopicToAgents[topicKey] = slices.Clone(agents)
	}
	for id, rec := range s.Subscriptions {
		next.Subscriptions[id] = rec
	}
	return next
}

// registerAgentType records a type descriptor; duplicate names are rejected
func (s *State) registerAgentType(desc TypeDescriptor) error {
	if _, exists := s.AgentTypes[desc.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrAgentTypeExists, desc.Name),
			"registry", "registerAgentType", "duplicate type check")
	}
	s.AgentTypes[desc.Name] = desc
	return nil
}

// addSubscription inserts a record into the index and both directional maps.
// All three are updated here, in one place, so a snapshot can never persist
// a partial update.
func (s *State) addSubscription(rec SubscriptionRecord) error {
	if _, exists := s.Subscriptions[rec.ID]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrSubscriptionExists, rec.ID),
			"registry", "addSubscription", "duplicate id check")
	}

	s.Subscriptions[rec.ID] = rec
	key := rec.topicKey()
	s.AgentsToTopics[rec.AgentType] = addToSet(s.AgentsToTopics[rec.AgentType], key)
	s.TopicToAgents[key] = addToSet(s.TopicToAgents[key], rec.AgentType)
	return nil
}

// removeSubscription removes a record from the index and prunes the
// directional maps when no other subscription still needs their entries.
func (s *State) removeSubscription(id string) error {
	rec, exists := s.Subscriptions[id]
	if !exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrSubscriptionNotFound, id),
			"registry", "removeSubscription", "id lookup")
	}
	delete(s.Subscriptions, id)

	key := rec.topicKey()
	if !s.pairStillSubscribed(rec.AgentType, key) {
		s.AgentsToTopics[rec.AgentType] = removeFromSet(s.AgentsToTopics[rec.AgentType], key)
		if len(s.AgentsToTopics[rec.AgentType]) == 0 {
			delete(s.AgentsToTopics, rec.AgentType)
		}
		s.TopicToAgents[key] = removeFromSet(s.TopicToAgents[key], rec.AgentType)
		if len(s.TopicToAgents[key]) == 0 {
			delete(s.TopicToAgents, key)
		}
	}
	return nil
}

// pairStillSubscribed reports whether any remaining subscription covers the
// (agentType, topicKey) pair, in which case the map entries must stay.
func (s *State) pairStillSubscribed(agentType, topicKey string) bool {
	for _, rec := range s.Subscriptions {
		if rec.AgentType == agentType && rec.topicKey() == topicKey {
			return true
		}
	}
	return false
}

// addToSet inserts into a sorted string set, keeping snapshots byte-stable
func addToSet(set []string, value string) []string {
	idx, found := slices.BinarySearch(set, value)
	if found {
		return set
	}
	return slices.Insert(set, idx, value)
}

func removeFromSet(set []string, value string) []string {
	idx, found := slices.BinarySearch(set, value)
	if !found {
		return set
	}
	return slices.Delete(set, idx, idx+1)
}
