package logging

import "context"

// Audit records a security-relevant event at INFO level on the "Audit"
// subsystem. The message is prefixed with SECURITY_AUDIT so audit lines can
// be filtered from regular output.
//
// SECURITY: never pass token values. Wrap anything secret in
// oauth.RedactedToken, whose LogValue hides the value.
func Audit(event, message string, args ...any) {
	logger := Logger("Audit")
	if !logger.Enabled(context.Background(), LevelInfo.SlogLevel()) {
		return
	}
	logger.Info("SECURITY_AUDIT: "+message, append([]any{"event", event}, args...)...)
}
