// Package guacamole speaks the guacd wire protocol: the length-prefixed
// textual instruction framing, the select/connect handshake, and the
// session that relays instructions between a websocket client and guacd,
// driven by the shared readiness poller.
package guacamole

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedInstruction reports bytes that cannot be parsed as the
// length-prefixed dot form.
var ErrMalformedInstruction = errors.New("malformed guacamole instruction")

// maxLengthDigits caps an element's length prefix. Anything longer would
// overflow int before the value could plausibly arrive, so the instruction
// is rejected instead of accumulated.
const maxLengthDigits = 8

// Instruction is one parsed guacd message.
type Instruction struct {
	Opcode string
	Args   []string
}

// String renders the instruction back to its wire form.
func (i Instruction) String() string {
	return EncodeInstruction(i.Opcode, i.Args...)
}

// EncodeInstruction builds a wire instruction. Each element is prefixed
// with its decimal byte length: opcode_len.opcode,arg_len.arg,...;
func EncodeInstruction(opcode string, args ...string) string {
	parts := make([]string, 0, 1+len(args))
	parts = append(parts, fmt.Sprintf("%d.%s", len(opcode), opcode))
	for _, arg := range args {
		parts = append(parts, fmt.Sprintf("%d.%s", len(arg), arg))
	}
	return strings.Join(parts, ",") + ";"
}

// ParseInstruction decodes one complete wire instruction.
func ParseInstruction(raw string) (Instruction, error) {
	end, ok, err := instructionEnd([]byte(raw))
	if err != nil {
		return Instruction{}, err
	}
	if !ok || end != len(raw) {
		return Instruction{}, fmt.Errorf("%w: %q", ErrMalformedInstruction, raw)
	}

	var instr Instruction
	first := true
	i := 0
	for {
		j := i
		for raw[j] != '.' {
			j++
		}
		n := 0
		for _, c := range raw[i:j] {
			n = n*10 + int(c-'0')
		}
		value := raw[j+1 : j+1+n]
		if first {
			instr.Opcode = value
			first = false
		} else {
			instr.Args = append(instr.Args, value)
		}
		i = j + 1 + n
		if raw[i] == ';' {
			return instr, nil
		}
		i++ // skip ','
	}
}

// instructionEnd scans b for one complete instruction. It returns the index
// just past the terminating ';', ok=false when the bytes are a valid prefix
// that needs more data, and an error when the framing is broken.
func instructionEnd(b []byte) (int, bool, error) {
	i := 0
	for {
		j := i
		for j < len(b) && b[j] >= '0' && b[j] <= '9' {
			j++
		}
		if j == len(b) {
			return 0, false, nil
		}
		if j == i || b[j] != '.' {
			return 0, false, fmt.Errorf("%w: expected length prefix at offset %d", ErrMalformedInstruction, i)
		}
		if j-i > maxLengthDigits {
			return 0, false, fmt.Errorf("%w: oversized length prefix at offset %d", ErrMalformedInstruction, i)
		}
		n := 0
		for _, c := range b[i:j] {
			n = n*10 + int(c-'0')
		}
		valueEnd := j + 1 + n
		if valueEnd >= len(b) {
			return 0, false, nil
		}
		switch b[valueEnd] {
		case ',':
			i = valueEnd + 1
		case ';':
			return valueEnd + 1, true, nil
		default:
			return 0, false, fmt.Errorf("%w: expected delimiter at offset %d", ErrMalformedInstruction, valueEnd)
		}
	}
}

// InstructionReader buffers reads from a guacd connection and hands out
// complete instructions. Values may contain ';' and ',', so the scan is
// length-aware rather than delimiter-based.
type InstructionReader struct {
	conn io.Reader
	buf  []byte
}

// NewInstructionReader wraps a guacd connection.
func NewInstructionReader(conn io.Reader) *InstructionReader {
	return &InstructionReader{conn: conn}
}

// ReadSome performs one read from the connection into the buffer.
func (r *InstructionReader) ReadSome() error {
	chunk := make([]byte, 8192)
	n, err := r.conn.Read(chunk)
	if n > 0 {
		r.buf = append(r.buf, chunk[:n]...)
	}
	return err
}

// Next pops the next buffered complete instruction in wire form. ok is
// false when the buffer holds no complete instruction yet.
func (r *InstructionReader) Next() (raw string, ok bool, err error) {
	end, complete, err := instructionEnd(r.buf)
	if err != nil {
		return "", false, err
	}
	if !complete {
		return "", false, nil
	}
	raw = string(r.buf[:end])
	r.buf = append(r.buf[:0], r.buf[end:]...)
	return raw, true, nil
}

// ReadInstruction blocks until one full instruction is available. Used
// during the handshake, before the session hands the socket to the poller.
func (r *InstructionReader) ReadInstruction() (Instruction, error) {
	for {
		raw, ok, err := r.Next()
		if err != nil {
			return Instruction{}, err
		}
		if ok {
			return ParseInstruction(raw)
		}
		if err := r.ReadSome(); err != nil {
			return Instruction{}, err
		}
	}
}
