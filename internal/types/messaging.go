package types

import "time"

// AlertMessage is the SQS payload enqueued by the spray advisor and consumed
// by the alert worker. TraceID correlates worker logs with the advisor run.
type AlertMessage struct {
	TraceID        string      `json:"trace_id"`
	FieldID        string      `json:"field_id"`
	OrganizationID string      `json:"organization_id"`
	FieldName      string      `json:"field_name"`
	Window         SprayWindow `json:"window"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`
}

// PushPayload is the JSON body delivered to the push relay for one device.
type PushPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	FieldID  string `json:"field_id"`
	Endpoint string `json:"-"`
}
