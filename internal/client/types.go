package client

import "workspace-realtime/internal/credstore"

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

func (r tokenResponse) pair() credstore.Pair {
	return credstore.Pair{Access: r.AccessToken, Renewal: r.RefreshToken}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type presenceRequest struct {
	Status string `json:"status"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// MessageDraft is the body of a new message. Content is opaque to this
// client beyond the fields the backend requires.
type MessageDraft struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// MessageQuery filters ListMessages. Zero values are omitted.
type MessageQuery struct {
	ChannelID string
	DMID      string
	Before    string
	Limit     int
}

type SearchQuery struct {
	Query       string
	WorkspaceID string
	ChannelID   string
}
