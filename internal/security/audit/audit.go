package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/infrastructure/logger"
)

// Outcome values recorded on audit events.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// Logger writes security audit events as structured log records.
type Logger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates an audit logger. A nil logger falls back to slog.Default.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With(slog.String("channel", "audit")), now: time.Now}
}

// LogAction records one security-relevant action.
func (al *Logger) LogAction(ctx context.Context, tenantID, userID, action, status, details string) {
	if al == nil {
		return
	}
	al.logger.InfoContext(ctx, "audit",
		slog.String("action", action),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", logger.RequestID(ctx)),
		slog.Time("timestamp", al.now().UTC()),
	)
}

// LogLogin records a login attempt. identifier is logged only for failures
// that did not resolve to a user.
func (al *Logger) LogLogin(ctx context.Context, tenantID, userID, identifier, status, code string) {
	details := code
	if userID == "" && identifier != "" {
		details = code + " identifier=" + identifier
	}
	al.LogAction(ctx, tenantID, userID, "login", status, details)
}

// LogLockout records an account entering the locked state.
func (al *Logger) LogLockout(ctx context.Context, tenantID, userID string, until time.Time) {
	al.LogAction(ctx, tenantID, userID, "lockout", StatusSuccess, "locked until "+until.UTC().Format(time.RFC3339))
}

// LogRevoke records a token revocation (logout).
func (al *Logger) LogRevoke(ctx context.Context, tenantID, userID string) {
	al.LogAction(ctx, tenantID, userID, "token_revoke", StatusSuccess, "")
}

// LogUserChange records an administrative change to a user.
func (al *Logger) LogUserChange(ctx context.Context, tenantID, actorID, action, targetID string) {
	al.LogAction(ctx, tenantID, actorID, action, StatusSuccess, "target="+targetID)
}

// LogDenied records a rejected request.
func (al *Logger) LogDenied(ctx context.Context, tenantID, userID, reason string) {
	al.LogAction(ctx, tenantID, userID, "access_denied", StatusDenied, reason)
}
