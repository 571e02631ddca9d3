// Package files implements the SFTP file-manager session: typed JSON
// control messages dispatched over one websocket, raw binary frames for
// upload/download payloads, and audit emission for mutating operations.
package files

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rjsadow/drawbridge/internal/wire"
)

// ErrUnsupportedOp marks a control message whose code has no handler.
var ErrUnsupportedOp = errors.New("unsupported file operation")

// Control is one decoded client control message. Each variant carries the
// typed params of its operation; validation of required fields happens in
// the session so the error frames can name the operation.
type Control interface{ isControl() }

type ListDir struct{}

type Mkdir struct {
	Name string
}

type Mkfile struct {
	Name string
}

type Rename struct {
	OldName string
	NewName string
}

type Delete struct {
	Filename string
	IsDir    bool
}

type Cwd struct {
	DirName string
}

type Upload struct {
	OriginPath string
	Filename   string
}

type Download struct {
	Filename string
}

type Finish struct{}

func (ListDir) isControl()  {}
func (Mkdir) isControl()    {}
func (Mkfile) isControl()   {}
func (Rename) isControl()   {}
func (Delete) isControl()   {}
func (Cwd) isControl()      {}
func (Upload) isControl()   {}
func (Download) isControl() {}
func (Finish) isControl()   {}

type controlEnvelope struct {
	Code   wire.FileOp     `json:"code"`
	Params json.RawMessage `json:"params"`
}

// DecodeControl parses a client control frame into its tagged variant.
// Unknown codes return ErrUnsupportedOp.
func DecodeControl(data []byte) (Control, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode control frame: %w", err)
	}

	params := env.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	switch env.Code {
	case wire.ListDir:
		return ListDir{}, nil
	case wire.Mkdir:
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode mkdir params: %w", err)
		}
		return Mkdir{Name: p.Name}, nil
	case wire.Mkfile:
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode mkfile params: %w", err)
		}
		return Mkfile{Name: p.Name}, nil
	case wire.Rename:
		var p struct {
			OldName string `json:"old_name"`
			NewName string `json:"new_name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode rename params: %w", err)
		}
		return Rename{OldName: p.OldName, NewName: p.NewName}, nil
	case wire.Delete:
		var p struct {
			Filename string      `json:"filename"`
			IsDir    interface{} `json:"is_dir"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode delete params: %w", err)
		}
		// Wire compatibility: only the literal string "false" means a
		// plain file; every other value, including absent, means directory.
		isDir := true
		if s, ok := p.IsDir.(string); ok && s == "false" {
			isDir = false
		}
		return Delete{Filename: p.Filename, IsDir: isDir}, nil
	case wire.Cwd:
		var p struct {
			DirName string `json:"dir_name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode cwd params: %w", err)
		}
		return Cwd{DirName: p.DirName}, nil
	case wire.Upload:
		var p struct {
			OriginPath string `json:"origin_path"`
			Filename   string `json:"filename"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode upload params: %w", err)
		}
		return Upload{OriginPath: p.OriginPath, Filename: p.Filename}, nil
	case wire.Download:
		var p struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode download params: %w", err)
		}
		return Download{Filename: p.Filename}, nil
	case wire.Finish:
		return Finish{}, nil
	default:
		return nil, fmt.Errorf("%w: code %d", ErrUnsupportedOp, env.Code)
	}
}

// Entry is one row of a directory listing reply. ID is the position of the
// entry within the listing.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	ID    int    `json:"id"`
}

type listingFrame struct {
	Code    wire.WsCode `json:"code"`
	Message []Entry     `json:"message"`
}

// MarshalListing encodes a directory listing reply frame.
func MarshalListing(entries []Entry) []byte {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(listingFrame{Code: wire.Success, Message: entries})
	if err != nil {
		// Entry marshaling cannot fail; keep the frame shape on the wire.
		return []byte(`{"code":1,"message":[]}`)
	}
	return data
}

// Reserved framing: an opcode byte, a big-endian u16 header length, a JSON
// header, then raw data. Not used by the active protocol; kept as the
// forward-compatible binary envelope.

const packHeaderOverhead = 3

var errFrameTooShort = errors.New("packed frame too short")

// Pack builds a reserved-framing message from its parts.
func Pack(opcode byte, header map[string]interface{}, data []byte) ([]byte, error) {
	if header == nil {
		header = map[string]interface{}{}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode frame header: %w", err)
	}
	if len(hdr) > math.MaxUint16 {
		return nil, fmt.Errorf("frame header too large: %d bytes", len(hdr))
	}

	out := make([]byte, 0, packHeaderOverhead+len(hdr)+len(data))
	out = append(out, opcode)
	out = binary.BigEndian.AppendUint16(out, uint16(len(hdr)))
	out = append(out, hdr...)
	out = append(out, data...)
	return out, nil
}

// Unpack splits a reserved-framing message back into its parts.
func Unpack(frame []byte) (opcode byte, header map[string]interface{}, data []byte, err error) {
	if len(frame) < packHeaderOverhead {
		return 0, nil, nil, errFrameTooShort
	}
	opcode = frame[0]
	hdrLen := int(binary.BigEndian.Uint16(frame[1:3]))
	if len(frame) < packHeaderOverhead+hdrLen {
		return 0, nil, nil, fmt.Errorf("%w: header claims %d bytes", errFrameTooShort, hdrLen)
	}
	if err := json.Unmarshal(frame[3:3+hdrLen], &header); err != nil {
		return 0, nil, nil, fmt.Errorf("decode frame header: %w", err)
	}
	data = append([]byte(nil), frame[3+hdrLen:]...)
	return opcode, header, data, nil
}
