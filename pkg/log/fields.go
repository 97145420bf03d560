package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Service
	FieldService   = "service"
	FieldComponent = "component"

	// Chat connection
	FieldConnID   = "conn_id"
	FieldRemoteIP = "remote_ip"
	FieldMsgType  = "msg_type"
	FieldRecordID = "record_id"

	// Access decision
	FieldOutcome = "outcome"
	FieldRuleID  = "rule_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
