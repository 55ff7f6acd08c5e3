package convo

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind identifies the command carried by an inbound message.
type Kind string

const (
	KindRegister Kind = "register"
	KindWithdraw Kind = "withdraw"
	KindInfo     Kind = "info"
	KindHistory  Kind = "history"
	KindUnknown  Kind = "unknown"
)

type rule struct {
	kind     Kind
	keywords []string
}

// rules are evaluated in order; the first rule with a keyword contained in
// the message wins. register > withdraw > info > history.
var rules = []rule{
	{kind: KindRegister, keywords: []string{"register"}},
	{kind: KindWithdraw, keywords: []string{"withdraw"}},
	{kind: KindInfo, keywords: []string{"info"}},
	{kind: KindHistory, keywords: []string{"history"}},
}

// Classify maps free text to a command kind using case-insensitive substring
// containment.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.kind
			}
		}
	}
	return KindUnknown
}

// Message is an inbound message as delivered by a transport. SenderID is the
// raw platform identifier and must not be persisted.
type Message struct {
	Source         string
	ConversationID string
	MessageID      string
	Text           string
	SenderID       string
	SenderName     string
	PlatformToken  string
}

// Command is the per-message unit of work handed to exactly one workflow.
type Command struct {
	Kind           Kind
	RawText        string
	SenderDigest   string
	ConversationID string
	MessageID      string
	PlatformToken  string
}

// NewCommand classifies msg and replaces the raw sender id with its digest.
func NewCommand(msg Message) Command {
	return Command{
		Kind:           Classify(msg.Text),
		RawText:        msg.Text,
		SenderDigest:   SenderDigest(msg.SenderID),
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		PlatformToken:  msg.PlatformToken,
	}
}

// SenderDigest returns the hex SHA-256 of a platform sender id.
func SenderDigest(senderID string) string {
	sum := sha256.Sum256([]byte(senderID))
	return hex.EncodeToString(sum[:])
}
