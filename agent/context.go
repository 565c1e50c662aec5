package agent

// MessageContext carries the routing metadata of an inbound message into its
// handler. Cancellation is not part of this struct; it travels on the
// context.Context passed alongside it.
type MessageContext struct {
	// MessageID is the unique id of this message. For RPC sends it doubles
	// as the correlation RequestId.
	MessageID string

	// Sender is the id of the sending agent, when the message originated
	// inside the runtime. Nil for messages injected from outside.
	Sender *AgentId

	// Topic is set for publish deliveries and nil for direct sends.
	Topic *TopicId

	// IsRPC reports whether the sender awaits a reply. Handler return
	// values are discarded for non-RPC deliveries.
	IsRPC bool
}
