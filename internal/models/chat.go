// Rendezvous - Realtime Chat Core for Dating and Social Apps
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rendezvous

package models

import "time"

// ContentType is the payload kind of a message.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentFile  ContentType = "file"
	ContentImage ContentType = "image"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentFile, ContentImage:
		return true
	}
	return false
}

// CarriesFile reports whether the type is expected to reference an uploaded object.
func (t ContentType) CarriesFile() bool {
	return t == ContentFile || t == ContentImage
}

// Message is a single chat message embedded in a Conversation.
type Message struct {
	ID            string      `json:"id"`
	Sender        string      `json:"sender"`
	Receiver      string      `json:"receiver"`
	Content       string      `json:"content,omitempty"`
	ContentType   ContentType `json:"content_type"`
	ContentLink   string      `json:"content_link,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	EditedAt      *time.Time  `json:"edited_at,omitempty"`
	IsRead        bool        `json:"is_read"`
	IsAppropriate bool        `json:"is_appropriate"`
}

// SamePayload reports whether other carries the same authored content as m.
// Server-stamped fields (timestamp, read and edit state) are ignored, so a
// retried send compares equal to the stored original.
func (m *Message) SamePayload(other *Message) bool {
	return m.ID == other.ID &&
		m.Sender == other.Sender &&
		m.Receiver == other.Receiver &&
		m.Content == other.Content &&
		m.ContentType == other.ContentType &&
		m.ContentLink == other.ContentLink
}

// Conversation is the persistent record of one participant pair.
// Participants is always stored in sorted order.
type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasParticipant reports whether user is one of the two participants.
func (c *Conversation) HasParticipant(user string) bool {
	return c.Participants[0] == user || c.Participants[1] == user
}

// Peer returns the participant that is not user.
func (c *Conversation) Peer(user string) (string, bool) {
	switch user {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	}
	return "", false
}

// MessageIndex returns the position of the message with the given id, or -1.
func (c *Conversation) MessageIndex(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// SortedPair orders two identities so that (a, b) and (b, a) produce the same pair.
func SortedPair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// UnreadCount is the number of unread messages one sender has addressed to a user.
type UnreadCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// User is an entry in the user directory.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
