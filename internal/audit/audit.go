package audit

import (
	"context"

	"github.com/graham924/blog-feng-yu/pkg/log"
)

// Audit actions.
const (
	ActionLogin          = "auth.login"
	ActionLoginFailed    = "auth.login_failed"
	ActionLogout         = "auth.logout"
	ActionChatConnect    = "chat.connect"
	ActionChatDisconnect = "chat.disconnect"
	ActionChatRecall     = "chat.recall"
	ActionChatVoice      = "chat.voice"
	ActionResourceCreate = "access.resource_create"
	ActionResourceDelete = "access.resource_delete"
	ActionRulesRefresh   = "access.rules_refresh"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, actor string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, actor).
		Msg(msg)
}

// LogTarget emits an audit entry about a specific object.
func LogTarget(ctx context.Context, action string, actor string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, actor).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, actor string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, actor).
		Str(FieldDetail, detail).
		Msg(msg)
}
