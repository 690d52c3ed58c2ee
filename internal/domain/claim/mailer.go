package claim

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes invitations to the log instead of sending them.
type LogMailer struct {
	lg *zap.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(lg *zap.Logger) *LogMailer {
	return &LogMailer{lg: lg}
}

// SendClaimInvite implements Mailer.
func (m *LogMailer) SendClaimInvite(_ context.Context, inv Invite) error {
	m.lg.Info("Claim invite",
		zap.String("to", inv.To),
		zap.String("business", inv.BusinessName),
		zap.String("link", inv.Link),
		zap.Time("expires_at", inv.ExpiresAt),
	)
	return nil
}
