package middleware

// ErrorResponse is the JSON body middleware writes when it aborts a request.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
