package logging

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldKind       = "kind"
	FieldGrantID    = "grant_id"
	FieldPersonID   = "person_id"
	FieldActorID    = "actor_id"
	FieldCode       = "code"
	FieldValue      = "value"
	FieldEvent      = "event"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentCLI     = "cli"
)
