package models

import "time"

// ProcessRequest is the queue message consumed by the worker pool.
type ProcessRequest struct {
	MediaID     string    `json:"mediaId"`
	RequesterID string    `json:"requesterId"`
	RetryCount  int       `json:"retryCount"`
	MaxRetries  int       `json:"maxRetries"`
	CreatedAt   time.Time `json:"createdAt"`
	Timeout     int       `json:"timeout"`
}
