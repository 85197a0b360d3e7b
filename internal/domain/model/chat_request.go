package model

// ParsedChatRequest is the canonical form of an inbound chat submission,
// whichever wire encoding it arrived in.
type ParsedChatRequest struct {
	SessionID string
	Message   string
	TextLogs  string
	// UserText is the only input ever placed into a prompt.
	UserText string
}

// SessionRequest is what the entry router forwards to a session handler.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
	UserText  string `json:"userText"`
}

type ChatResponse struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
