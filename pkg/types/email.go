package types

import (
	"strings"
	"time"
)

// Address is a display name and mailbox pair
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String renders the address as "Name <email>", or the bare email when no name is set
func (a Address) String() string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return a.Email
	}
	return name + " <" + a.Email + ">"
}

// Attachment describes an attached part. Content is never carried.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Envelope is the list view of a message
type Envelope struct {
	Account    string    `json:"account"`
	Folder     string    `json:"folder"`
	UID        string    `json:"uid"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject"`
	From       Address   `json:"from"`
	Date       time.Time `json:"date"`
	ReceivedAt time.Time `json:"received_at"`
	Read       bool      `json:"read"`
	Size       uint32    `json:"size"`

	// Synthetic is set when the message carried no Message-ID header
	// and one was derived from the UID and account address.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Message is the full view of a message
type Message struct {
	Envelope

	ReplyTo     []Address    `json:"reply_to,omitempty"`
	To          []Address    `json:"to,omitempty"`
	Cc          []Address    `json:"cc,omitempty"`
	Bcc         []Address    `json:"bcc,omitempty"`
	References  []string     `json:"references,omitempty"`
	BodyText    string       `json:"body_text,omitempty"`
	BodyHTML    string       `json:"body_html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Degraded is set when any field had to be replaced by a placeholder
	Degraded bool `json:"degraded,omitempty"`
}

// Email is a message as persisted in the local cache
type Email struct {
	Message

	ID        int64     `json:"id"`
	AccountID int       `json:"account_id"`
	FolderID  int       `json:"folder_id"`
	Starred   bool      `json:"starred"`
	CachedAt  time.Time `json:"cached_at"`
}

// EmailSummary represents a summary of an email (for search results)
type EmailSummary struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	FolderPath  string    `json:"folder_path"`
	UID         string    `json:"uid"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	Date        time.Time `json:"date"`
	Read        bool      `json:"read"`
	Snippet     string    `json:"snippet"`
}

// Folder represents an email folder/mailbox
type Folder struct {
	ID           int        `json:"id" db:"id"`
	AccountID    int        `json:"account_id" db:"account_id"`
	AccountName  string     `json:"account_name" db:"account_name"`
	Name         string     `json:"name" db:"name"`
	Path         string     `json:"path" db:"path"`
	MessageCount int        `json:"message_count" db:"message_count"`
	LastSynced   *time.Time `json:"last_synced,omitempty" db:"last_synced"`
}
