// Package a2a implements the agent-to-agent protocol binding: JSON-RPC 2.0
// over HTTP with request/response (message/send) and server-push streaming
// (message/stream) semantics.
package a2a

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes, plus the application-defined auth/domain error.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeApplication    = -32000
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      interface{}  `json:"id"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC 2.0 error.
type ErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func newResponse(id interface{}, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func newError(id interface{}, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &ErrorObject{Code: code, Message: message}}
}

// Part is one piece of message content. Clients send either {text} or
// {kind:"text", text}; both are accepted and normalized to the latter.
type Part struct {
	Kind string `json:"kind,omitempty"`
	Text string `json:"text,omitempty"`
}

// Normalize fills the kind discriminant for bare-text parts.
func (p *Part) Normalize() {
	if p.Kind == "" && p.Text != "" {
		p.Kind = "text"
	}
}

// Message is one conversational message.
type Message struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	out := ""
	for _, p := range m.Parts {
		if p.Kind == "" || p.Kind == "text" {
			if out != "" && p.Text != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// MessageParams is the params object for message/send and message/stream.
type MessageParams struct {
	Message   Message `json:"message"`
	ContextID string  `json:"contextId,omitempty"`
}

func parseMessageParams(raw json.RawMessage) (*MessageParams, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("params are required")
	}
	var p MessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Message.Role == "" {
		p.Message.Role = "user"
	}
	if len(p.Message.Parts) == 0 {
		return nil, fmt.Errorf("message.parts must not be empty")
	}
	for i := range p.Message.Parts {
		p.Message.Parts[i].Normalize()
	}
	return &p, nil
}
