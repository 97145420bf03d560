package domain

import "time"

// ChatRecord is one persisted chat message or voice clip.
type ChatRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar,omitempty"`
	Content   string    `json:"content,omitempty"`
	IPAddress string    `json:"ip_address"`
	IPSource  string    `json:"ip_source"`
	Type      ChatType  `json:"type"`
	VoiceURL  string    `json:"voice_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SendMessageData is the client payload of SEND_MESSAGE.
type SendMessageData struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Content  string `json:"content"`
}

// HistoryRecord is the payload of HISTORY_RECORD, sent once per connection.
type HistoryRecord struct {
	ChatRecords []ChatRecord `json:"chat_records"`
	IPAddress   string       `json:"ip_address"`
	IPSource    string       `json:"ip_source"`
}

// RecallPayload is the payload of RECALL_MESSAGE.
type RecallPayload struct {
	ID      string `json:"id"`
	IsVoice bool   `json:"is_voice"`
}

// VoiceUpload describes a voice clip posted over HTTP.
type VoiceUpload struct {
	UserID    string
	Nickname  string
	Avatar    string
	IPAddress string
	FileName  string
	Size      int64
	Content   []byte
}

// UnknownIP is recorded when the client address cannot be determined.
const UnknownIP = "unknown"
