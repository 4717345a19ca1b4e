// Package schema defines the records shared by the export service, the local
// store and the portal backend client.
package schema

import "time"

// Client is a portal client account as returned by the backend.
type Client struct {
	ID        string    `json:"_id,omitempty"`
	ClientID  string    `json:"clientID"`
	UserName  string    `json:"userName"`
	Email     string    `json:"email,omitempty"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Submission is one client's form response.
type Submission struct {
	ID            string    `json:"_id"`
	ClientID      string    `json:"clientID,omitempty"`
	ClientDetails *Client   `json:"clientDetails,omitempty"`
	CreatedAt     Timestamp `json:"createdAt"`
	Data          Payload   `json:"data"`
}

// Created returns the creation time, or the zero time when unknown.
func (s Submission) Created() time.Time {
	t, _ := s.CreatedAt.Time()
	return t
}

// AuditLog records one export attempt.
type AuditLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Format    string    `json:"format"`
	Filename  string    `json:"filename"`
	Records   int       `json:"records"`
	Status    string    `json:"status"`
	Details   string    `json:"details,omitempty"`
}
