package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/queeriouslabs/secbot/internal/audit"
	"github.com/queeriouslabs/secbot/internal/schema"
)

// Command permissions sent by the admin tools.
const (
	PermReload = "/reload"
	PermOpen   = "/open"
)

// Requester is the part of *bus.Bus the admin client uses.
type Requester interface {
	Request(ctx context.Context, address string, msg schema.Message) (schema.Message, error)
}

// ActionRecorder stores admin actions. *audit.SQLiteRepository satisfies it.
type ActionRecorder interface {
	RecordAction(ctx context.Context, a *audit.Action) error
}

// Client sends admin commands over the bus.
type Client struct {
	req        Requester
	name       string
	authorizer string
	audit      ActionRecorder
	now        func() time.Time
}

// NewClient creates a client sending as name. recorder may be nil.
func NewClient(req Requester, name, authorizerAddr string, recorder ActionRecorder) *Client {
	return &Client{
		req:        req,
		name:       name,
		authorizer: authorizerAddr,
		audit:      recorder,
		now:        time.Now,
	}
}

// Reload asks the authorizer to re-read its ACL file. The authorizer
// acknowledges before reloading, so a nil error means the command was
// delivered, not that the new table is valid; the outcome is in its log
// and the audit trail.
func (c *Client) Reload(ctx context.Context) error {
	req := schema.NewRequest(c.name, c.authorizer, schema.NewPermission(PermReload, map[string]any{}))
	return c.send(ctx, c.authorizer, req)
}

// Unlock sends a granted /open straight to the latch at target,
// bypassing the authorizer. user is recorded in the request context and
// in the audit trail.
func (c *Client) Unlock(ctx context.Context, target, user string) error {
	p := schema.NewPermission(PermOpen, map[string]any{"user": user})
	p["grant"] = true
	err := c.send(ctx, target, schema.NewRequest(c.name, target, p))

	if c.audit != nil {
		action := &audit.Action{
			OccurredAt: c.now(),
			SourceID:   c.name,
			Action:     "unlock",
			Outcome:    "ok",
			Details:    map[string]any{"user": user, "target_id": target},
		}
		if err != nil {
			action.Outcome = "error"
			action.Details["error"] = err.Error()
		}
		if recErr := c.audit.RecordAction(ctx, action); recErr != nil && err == nil {
			return fmt.Errorf("recording unlock: %w", recErr)
		}
	}
	return err
}

func (c *Client) send(ctx context.Context, address string, req schema.Message) error {
	resp, err := c.req.Request(ctx, address, req)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", req.Permissions()[0].Perm(), address, err)
	}
	if resp.IsEmpty() {
		return fmt.Errorf("%s: %w", address, ErrNotAcknowledged)
	}
	if code, ok := resp.Code(); ok && code != schema.CodeOK {
		return fmt.Errorf("%s refused: %s (code %d)", address, resp.Msg(), code)
	}
	return nil
}
