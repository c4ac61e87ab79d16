package offlinegw

import (
	"context"

	"github.com/sirupsen/logrus"
)

const (
	ActionPlay  = "play"
	ActionClose = "close"

	SyncTagBackground = "background-sync"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// WindowOpener opens or focuses an application window at url.
type WindowOpener interface {
	Open(ctx context.Context, url string) error
}

// DataSyncProvider runs the application's background data sync.
type DataSyncProvider interface {
	Sync(ctx context.Context) error
}

// LogNotifier, LogOpener and LogSync are the default collaborators; they only
// log.
type LogNotifier struct{}

func (LogNotifier) Show(_ context.Context, n Notification) error {
	logrus.WithField("actions", len(n.Actions)).Infof("[NOTIFY] %s: %s", n.Title, n.Body)
	return nil
}

type LogOpener struct{}

func (LogOpener) Open(_ context.Context, url string) error {
	logrus.Infof("[NOTIFY] open window %s", url)
	return nil
}

type LogSync struct{}

func (LogSync) Sync(context.Context) error {
	logrus.Info("[SYNC] background sync requested")
	return nil
}

// Events turns push, notification-click and sync events into collaborator
// calls. Errors are logged, never returned to the sender.
type Events struct {
	Title        string
	FallbackBody string
	RootURL      string

	Notifier Notifier
	Opener   WindowOpener
	Sync     DataSyncProvider
}

func (e *Events) Push(ctx context.Context, payload string) {
	body := payload
	if body == "" {
		body = e.FallbackBody
	}
	n := Notification{
		Title: e.Title,
		Body:  body,
		Actions: []NotificationAction{
			{Action: ActionPlay, Title: "Play"},
			{Action: ActionClose, Title: "Close"},
		},
	}
	if err := e.Notifier.Show(ctx, n); err != nil {
		logrus.WithError(err).Error("[NOTIFY] show notification failed")
	}
}

func (e *Events) NotificationClick(ctx context.Context, action string) {
	switch action {
	case ActionClose:
		return
	case ActionPlay, "":
		if err := e.Opener.Open(ctx, e.RootURL); err != nil {
			logrus.WithError(err).Error("[NOTIFY] open window failed")
		}
	}
}

func (e *Events) PeriodicSync(ctx context.Context, tag string) {
	if tag != SyncTagBackground {
		return
	}
	if err := e.Sync.Sync(ctx); err != nil {
		logrus.WithError(err).Error("[SYNC] background sync failed")
	}
}
