package broker

import (
	"encoding/json"
	"time"
)

// Request is the wire shape published on the request queue. Immutable once
// published; correlation happens on RequestID.
type Request struct {
	RequestID string                 `json:"request_id"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	IssuedAt  int64                  `json:"issued_at"`
}

// ResponseError is the structured failure half of a response.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the wire shape published on the response channel. Exactly one
// of Result or Error is set.
type Response struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// Error kinds produced by the dispatch layer itself. Provider error kinds
// pass through unchanged.
const (
	ErrorKindUnknownTool      = "unknown_tool"
	ErrorKindHandlerException = "handler_exception"
	ErrorKindTimeout          = "timeout"
)

func newRequest(tool string, args map[string]interface{}, id string) Request {
	return Request{
		RequestID: id,
		Tool:      tool,
		Args:      args,
		IssuedAt:  time.Now().Unix(),
	}
}

func successResponse(id string, result json.RawMessage) Response {
	return Response{RequestID: id, Result: result}
}

func errorResponse(id, kind, message string) Response {
	return Response{RequestID: id, Error: &ResponseError{Kind: kind, Message: message}}
}
