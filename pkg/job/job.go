package job

import (
	"crypto/rand"
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDeployed   Status = "DEPLOYED"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusError
}

// priors lists the statuses a deployment may hold immediately before
// moving to the given target. Writing a status the deployment already
// holds is allowed so that redelivered messages stay harmless.
var priors = map[Status][]Status{
	StatusInProgress: {StatusPending, StatusInProgress},
	StatusDeployed:   {StatusInProgress, StatusDeployed},
	StatusError:      {StatusInProgress, StatusError},
}

// Priors returns the statuses from which target is reachable, or nil if
// target is never a transition destination (PENDING is creation-only).
func Priors(target Status) []Status {
	return priors[target]
}

// CanTransition reports whether moving from -> to respects the
// PENDING -> IN_PROGRESS -> {DEPLOYED|ERROR} lifecycle.
func CanTransition(from, to Status) bool {
	for _, p := range priors[to] {
		if p == from {
			return true
		}
	}
	return false
}

type Deployment struct {
	ID           string    `json:"id"`
	RepoURL      string    `json:"repo_url"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// QueueMessage is the wire body of a build-start message.
type QueueMessage struct {
	ID string `json:"id"`
}

type SubmissionRequest struct {
	RepoURL string `json:"repo_url"`
}

// StatusUpdate is pushed to a registered connection on every status change.
type StatusUpdate struct {
	Type   string `json:"type"` // always "STATUS_UPDATE"
	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SystemMessage is pushed once when a connection registers (or fails to).
type SystemMessage struct {
	Type    string `json:"type"` // always "SYSTEM"
	Message string `json:"message"`
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a fresh deployment id. Ids are lowercase alphanumeric
// because they double as the site's subdomain label.
func NewID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}
