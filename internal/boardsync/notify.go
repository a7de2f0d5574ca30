package boardsync

import (
	"github.com/rs/zerolog"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a user-facing message. Err carries the typed cause.
type Notification struct {
	Level   Level
	Message string
	Err     error
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	ev := l.Logger.Info()
	if n.Level == LevelError {
		ev = l.Logger.Error().Err(n.Err)
	}
	ev.Str("notification", string(n.Level)).Msg(n.Message)
}
