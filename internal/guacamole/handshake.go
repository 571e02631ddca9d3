package guacamole

import (
	"fmt"
	"io"
)

// HandshakeParams carries everything guacd needs to open the remote
// desktop: the declared protocol, the target and credentials from the
// directory, the client screen geometry, and the recording location.
type HandshakeParams struct {
	Protocol string // "rdp" or "vnc"
	Hostname string
	Port     string
	Username string
	Password string
	Width    string
	Height   string

	// RecordingPath, when set, asks guacd to write a session recording
	// there, creating the directory if needed.
	RecordingPath string
}

// Handshake drives the guacd opening sequence on conn:
// select(protocol), read the advertised args, declare size/audio/video/
// image, then connect with a value for every advertised parameter name.
// After Handshake returns the ready instruction and all display data flow
// through the normal relay path.
func Handshake(conn io.ReadWriter, p HandshakeParams) error {
	if _, err := io.WriteString(conn, EncodeInstruction("select", p.Protocol)); err != nil {
		return fmt.Errorf("send select: %w", err)
	}

	r := NewInstructionReader(conn)
	args, err := r.ReadInstruction()
	if err != nil {
		return fmt.Errorf("read args: %w", err)
	}
	if args.Opcode != "args" {
		return fmt.Errorf("guacd answered %q to select, want args", args.Opcode)
	}

	caps := EncodeInstruction("size", p.Width, p.Height, "96") +
		EncodeInstruction("audio") +
		EncodeInstruction("video") +
		EncodeInstruction("image", "image/png", "image/jpeg")
	if _, err := io.WriteString(conn, caps); err != nil {
		return fmt.Errorf("send capabilities: %w", err)
	}

	connect := EncodeInstruction("connect", p.connectArgs(args.Args)...)
	if _, err := io.WriteString(conn, connect); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	return nil
}

// connectArgs answers guacd's advertised parameter names in their declared
// order; names without a value are sent empty.
func (p HandshakeParams) connectArgs(names []string) []string {
	values := map[string]string{
		"hostname":              p.Hostname,
		"port":                  p.Port,
		"username":              p.Username,
		"password":              p.Password,
		"width":                 p.Width,
		"height":                p.Height,
		"dpi":                   "96",
		"color-depth":           "24",
		"security":              "any",
		"ignore-cert":           "true",
		"disable-auth":          "true",
		"enable-wallpaper":      "true",
		"recording-path":        p.RecordingPath,
		"create-recording-path": "true",
	}
	if p.RecordingPath == "" {
		values["create-recording-path"] = ""
	}

	result := make([]string, len(names))
	for i, name := range names {
		// guacd advertises its protocol version as the first "name";
		// the canonical answer is to echo it back.
		if i == 0 && len(name) > 8 && name[:8] == "VERSION_" {
			result[i] = name
			continue
		}
		result[i] = values[name]
	}
	return result
}
