package domain

import "time"

const (
	MessageBodyMinLength = 1
	MessageBodyMaxLength = 5000
)

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeRequester MessageAuthorType = "REQUESTER"
	AuthorTypeStaff     MessageAuthorType = "STAFF"
	AuthorTypeSystem    MessageAuthorType = "SYSTEM"
)

// TicketMessage captures communications in a ticket thread. Messages are
// append-only and owned by exactly one ticket.
type TicketMessage struct {
	ID            string
	TicketID      string
	AuthorType    MessageAuthorType
	AuthorID      string
	Body          string
	IsInternal    bool
	AttachmentIDs []string
	CreatedAt     time.Time
}
