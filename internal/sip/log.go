package sip

import "go.uber.org/zap"

// LogBackend is used when no broker is configured: it logs every command and
// never produces call events.
type LogBackend struct {
	log *zap.SugaredLogger
}

// NewLogBackend creates a LogBackend. A nil logger discards output.
func NewLogBackend(log *zap.SugaredLogger) *LogBackend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogBackend{log: log}
}

func (b *LogBackend) Dial(number string) error {
	b.log.Infow("dial (no call backend)", "number", number)
	return nil
}

func (b *LogBackend) Answer() error {
	b.log.Infow("answer (no call backend)")
	return nil
}

func (b *LogBackend) Hangup(code int, reason string) error {
	b.log.Infow("hangup (no call backend)", "code", code, "reason", reason)
	return nil
}

func (b *LogBackend) Logout() error {
	b.log.Infow("logout (no call backend)")
	return nil
}
