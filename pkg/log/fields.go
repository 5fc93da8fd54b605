package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches internal/auth context keys)
	FieldUserID      = "user_id"
	FieldDisplayName = "display_name"
	FieldRole        = "role"

	// Service
	FieldService = "service"

	// Change feed
	FieldTable     = "table"
	FieldEventKind = "event_kind"
	FieldMessageID = "message_id"

	// Upload pipeline
	FieldStorageKey = "storage_key"
	FieldStickerID  = "sticker_id"
)
