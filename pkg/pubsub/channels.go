package pubsub

// Channel names shared by every blog instance.
const (
	// ChannelAccessRules carries rule-table invalidations.
	ChannelAccessRules = "blog:access:rules"

	// ChannelChatEvents carries chat activity for downstream consumers.
	ChannelChatEvents = "blog:chat:events"
)

// Event types on ChannelAccessRules.
const (
	EventRulesChanged = "rules_changed"
)

// Event types on ChannelChatEvents.
const (
	EventChatSent     = "chat_sent"
	EventChatRecalled = "chat_recalled"
	EventChatVoice    = "chat_voice"
)

// RulesChangedPayload is published after a resource or its roles changed.
type RulesChangedPayload struct {
	ResourceID string `json:"resource_id,omitempty"`
	Reason     string `json:"reason"` // "created", "deleted", "manual"
}

// ChatEventPayload describes one chat record change.
type ChatEventPayload struct {
	RecordID  string `json:"record_id"`
	UserID    string `json:"user_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	VoiceURL  string `json:"voice_url,omitempty"`
}
