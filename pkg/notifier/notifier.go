package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"site-deployer/pkg/job"
	"site-deployer/pkg/observability"
	"site-deployer/pkg/push"
)

// Poster delivers one payload to a registered connection. push.ErrGone
// means the connection disappeared.
type Poster interface {
	Post(ctx context.Context, connectionID string, payload any) error
}

// Notifier forwards deployment mutations from the store's change feed to
// whichever connection is registered on the row. It is stateless, so a
// duplicate feed delivery costs at most a duplicate push.
type Notifier struct {
	poster Poster
	logger *slog.Logger
}

func New(poster Poster, logger *slog.Logger) *Notifier {
	return &Notifier{poster: poster, logger: logger}
}

// change mirrors the JSON emitted by the deployments trigger.
type change struct {
	Op  string          `json:"op"`
	Old *job.Deployment `json:"old"`
	New *job.Deployment `json:"new"`
}

// HandleChange processes one change-feed payload. Inserts carry no
// listener yet (a connection can only register after submission), so
// only updates produce a push. Push failures never propagate.
func (n *Notifier) HandleChange(ctx context.Context, payload string) {
	var ev change
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		n.logger.Error("malformed change event", "error", err)
		return
	}
	if ev.Op != "UPDATE" || ev.New == nil {
		return
	}
	if ev.New.ConnectionID == "" {
		observability.PushesDelivered.WithLabelValues("unbound").Inc()
		return
	}

	update := job.StatusUpdate{
		Type:   "STATUS_UPDATE",
		ID:     ev.New.ID,
		Status: ev.New.Status,
		Error:  ev.New.Error,
	}
	err := n.poster.Post(ctx, ev.New.ConnectionID, update)
	switch {
	case err == nil:
		observability.PushesDelivered.WithLabelValues("ok").Inc()
	case errors.Is(err, push.ErrGone):
		// The client already left; there is nobody to retry for.
		observability.PushesDelivered.WithLabelValues("gone").Inc()
	default:
		observability.PushesDelivered.WithLabelValues("failed").Inc()
		n.logger.Error("status push failed", "job_id", ev.New.ID, "error", err)
	}
}
