package models

import "encoding/json"

// Event names of the realtime protocol
const (
	EventJoinDocument   = "join_document"
	EventLeaveDocument  = "leave_document"
	EventDocumentChange = "document_change"

	EventLoadDocumentContent = "load_document_content"
	EventUserJoined          = "user_joined"
	EventDocumentUpdated     = "document_updated"
	EventError               = "error"
)

// Envelope is the frame exchanged in both directions over the websocket
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type LoadDocumentContent struct {
	Title   string  `json:"title"`
	Content Content `json:"content"`
}

type UserJoined struct {
	UserID int64 `json:"user_id"`
}

type DocumentUpdated struct {
	DocumentID int64   `json:"document_id"`
	Content    Content `json:"content"`
	ByUserID   int64   `json:"by_user_id"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// EncodeEnvelope serialises an outbound event
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
