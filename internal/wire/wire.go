// Package wire defines the JSON frame and the numeric codes shared with the
// browser client. The values are part of the wire protocol and must not be
// renumbered.
package wire

import "encoding/json"

// WsCode tags every JSON text frame exchanged with the browser.
type WsCode int

const (
	// Error reports a failure; the session usually closes afterwards.
	Error WsCode = 0
	// Success acknowledges a file operation, carrying a listing or a
	// literal "success" in the message field.
	Success WsCode = 1
	// Text carries raw terminal output from the backend shell.
	Text WsCode = 2
)

// FileOp identifies a file-manager control message.
type FileOp int

const (
	ListDir  FileOp = 1
	Mkdir    FileOp = 2
	Mkfile   FileOp = 3
	Rename   FileOp = 4
	Delete   FileOp = 5
	Cwd      FileOp = 6
	Upload   FileOp = 7
	Download FileOp = 8
	Finish   FileOp = 9
)

// Frame is the common JSON text frame: {"code": <int>, "message": <string>}.
type Frame struct {
	Code    WsCode `json:"code"`
	Message string `json:"message"`
}

// Marshal encodes a frame, ignoring the (impossible) marshal error so call
// sites stay terse on the send path.
func Marshal(code WsCode, message string) []byte {
	b, _ := json.Marshal(Frame{Code: code, Message: message})
	return b
}
