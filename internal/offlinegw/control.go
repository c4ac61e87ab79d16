package offlinegw

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MsgSkipWaiting = "SKIP_WAITING"
	MsgGetVersion  = "GET_VERSION"
)

type Message struct {
	Type string `json:"type"`
}

type VersionReply struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Replier is the reply channel that came with a message.
type Replier interface {
	Reply(v any) error
}

// ReplyFunc adapts a function to Replier.
type ReplyFunc func(v any) error

func (f ReplyFunc) Reply(v any) error { return f(v) }

// Control handles messages sent by the application to the gateway.
type Control struct {
	reg      *Registration
	fallback Release
	now      func() time.Time
}

// NewControl answers on behalf of reg. GET_VERSION reports fallback while no
// worker is active.
func NewControl(reg *Registration, fallback Release) *Control {
	return &Control{reg: reg, fallback: fallback, now: time.Now}
}

// Handle acts on msg. Unknown types are ignored. replier may be nil, in which
// case GET_VERSION has nowhere to answer and does nothing.
func (c *Control) Handle(ctx context.Context, msg Message, replier Replier) error {
	switch msg.Type {
	case MsgSkipWaiting:
		if err := c.reg.SkipWaiting(ctx); err != nil {
			logrus.WithError(err).Debug("[CONTROL] skip waiting ignored")
		}
		return nil
	case MsgGetVersion:
		if replier == nil {
			return nil
		}
		rel := c.fallback
		if w := c.reg.Active(); w != nil {
			rel = w.Release()
		}
		return replier.Reply(VersionReply{
			Version:   rel.CacheName(),
			Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		})
	}
	logrus.Debugf("[CONTROL] ignoring message type %q", msg.Type)
	return nil
}
