package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// SessionStoreLogger wraps a SessionStore and logs all method calls
type SessionStoreLogger struct {
	store  comfortcloud.SessionStore
	logger *slog.Logger
}

// NewSessionStoreLogger creates a new logging decorator for a SessionStore
func NewSessionStoreLogger(store comfortcloud.SessionStore, logger *slog.Logger) comfortcloud.SessionStore {
	return &SessionStoreLogger{
		store:  store,
		logger: logger.With("interface", "SessionStore"),
	}
}

func (l *SessionStoreLogger) Load(ctx context.Context) (*comfortcloud.Session, error) {
	start := time.Now()

	session, err := l.store.Load(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Load failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("Load completed",
		"found", session != nil,
		"duration", duration)

	return session, nil
}

func (l *SessionStoreLogger) Save(ctx context.Context, session *comfortcloud.Session) error {
	start := time.Now()

	err := l.store.Save(ctx, session)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Save failed",
			"expires_at", session.ExpiresAt,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Debug("Save completed",
		"expires_at", session.ExpiresAt,
		"duration", duration)

	return nil
}

func (l *SessionStoreLogger) Clear(ctx context.Context) error {
	start := time.Now()

	err := l.store.Clear(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Clear failed",
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Debug("Clear completed",
		"duration", duration)

	return nil
}
