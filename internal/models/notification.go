package models

import "fmt"

// NotificationData carries the machine-readable part of a conflict alert.
type NotificationData struct {
	ConflictID string `json:"conflictId"`
	Type       string `json:"type"`
}

// Notification is a request for the host's notification channel.
// The sync core only produces these; delivery transport is the host's job.
type Notification struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Tag                string           `json:"tag"`
	RequireInteraction bool             `json:"requireInteraction"`
	Data               NotificationData `json:"data"`
}

// NewConflictNotification builds the alert sent when a conflict is persisted
// for user review.
func NewConflictNotification(conflictID string, recordType RecordType) Notification {
	return Notification{
		Title:              "Sync conflict needs your review",
		Body:               fmt.Sprintf("A %s record changed on another device while you edited it offline.", recordType),
		Tag:                "sync-conflict",
		RequireInteraction: true,
		Data: NotificationData{
			ConflictID: conflictID,
			Type:       "sync_conflict",
		},
	}
}
