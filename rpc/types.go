// Package rpc exposes the ledger via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/gpsrunner/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Data carries the ledger error
// code when the failure came from the ledger.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the machine-readable part of a ledger error.
type ErrorData struct {
	Kind core.Kind `json:"kind"`
	Code core.Code `json:"code"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
)

// Ledger error codes, one per error kind.
const (
	CodeNotAuthorized      = -32001
	CodeNotFound           = -32002
	CodePreconditionFailed = -32003
	CodeRateRejected       = -32004
	CodeTransferFailed     = -32005
)

var kindCodes = map[core.Kind]int{
	core.KindInvalidInput:       CodeInvalidParams,
	core.KindNotAuthorized:      CodeNotAuthorized,
	core.KindNotFound:           CodeNotFound,
	core.KindPreconditionFailed: CodePreconditionFailed,
	core.KindRateRejected:       CodeRateRejected,
	core.KindTransferFailed:     CodeTransferFailed,
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// ledgerErrResponse maps a ledger error onto a JSON-RPC error. Errors that
// are not ledger errors are reported as internal.
func ledgerErrResponse(id any, err error) Response {
	var le *core.Error
	if !errors.As(err, &le) {
		return errResponse(id, CodeInternalError, err.Error())
	}
	code, ok := kindCodes[le.Kind()]
	if !ok {
		code = CodeInternalError
	}
	resp := errResponse(id, code, err.Error())
	resp.Error.Data = &ErrorData{Kind: le.Kind(), Code: le.Code}
	return resp
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
