package realtime

const (
	FramePing   = "ping"
	FrameTyping = "typing"
)

type pingFrame struct {
	Type string `json:"type"`
}

type typingFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}
