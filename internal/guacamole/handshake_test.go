package guacamole

import (
	"net"
	"reflect"
	"testing"
	"time"
)

// scriptGuacd plays the guacd side of the handshake on conn and reports
// every instruction the client sent.
func scriptGuacd(t *testing.T, conn net.Conn, advertised []string) <-chan []Instruction {
	t.Helper()
	out := make(chan []Instruction, 1)
	go func() {
		defer close(out)
		r := NewInstructionReader(conn)
		var seen []Instruction

		sel, err := r.ReadInstruction()
		if err != nil {
			t.Errorf("guacd script: read select: %v", err)
			return
		}
		seen = append(seen, sel)

		args := append([]string{"args"}, advertised...)
		if _, err := conn.Write([]byte(EncodeInstruction(args[0], args[1:]...))); err != nil {
			t.Errorf("guacd script: send args: %v", err)
			return
		}

		// size, audio, video, image, connect
		for i := 0; i < 5; i++ {
			instr, err := r.ReadInstruction()
			if err != nil {
				t.Errorf("guacd script: read instruction %d: %v", i, err)
				return
			}
			seen = append(seen, instr)
		}
		out <- seen
	}()
	return out
}

func TestHandshake(t *testing.T) {
	advertised := []string{
		"VERSION_1_5_0", "hostname", "port", "username", "password",
		"security", "ignore-cert", "disable-auth", "enable-wallpaper",
		"recording-path", "create-recording-path", "unknown-param",
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	script := scriptGuacd(t, server, advertised)

	err := Handshake(client, HandshakeParams{
		Protocol:      "rdp",
		Hostname:      "10.0.0.9",
		Port:          "3389",
		Username:      "root",
		Password:      "secret",
		Width:         "800",
		Height:        "600",
		RecordingPath: "/data/drawbridge/replays",
	})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	var seen []Instruction
	select {
	case seen = <-script:
	case <-time.After(2 * time.Second):
		t.Fatal("guacd script did not finish")
	}
	if len(seen) != 6 {
		t.Fatalf("guacd saw %d instructions, want 6", len(seen))
	}

	if want := (Instruction{Opcode: "select", Args: []string{"rdp"}}); !reflect.DeepEqual(seen[0], want) {
		t.Errorf("select = %+v, want %+v", seen[0], want)
	}
	if want := (Instruction{Opcode: "size", Args: []string{"800", "600", "96"}}); !reflect.DeepEqual(seen[1], want) {
		t.Errorf("size = %+v, want %+v", seen[1], want)
	}
	for i, opcode := range []string{"audio", "video", "image"} {
		if seen[2+i].Opcode != opcode {
			t.Errorf("capability %d = %q, want %q", i, seen[2+i].Opcode, opcode)
		}
	}

	connect := seen[5]
	if connect.Opcode != "connect" {
		t.Fatalf("last instruction = %q, want connect", connect.Opcode)
	}
	wantArgs := []string{
		"VERSION_1_5_0", "10.0.0.9", "3389", "root", "secret",
		"any", "true", "true", "true",
		"/data/drawbridge/replays", "true", "",
	}
	if !reflect.DeepEqual(connect.Args, wantArgs) {
		t.Errorf("connect args = %q, want %q", connect.Args, wantArgs)
	}
}

func TestHandshakeWithoutRecording(t *testing.T) {
	advertised := []string{"VERSION_1_5_0", "hostname", "recording-path", "create-recording-path"}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	script := scriptGuacd(t, server, advertised)

	if err := Handshake(client, HandshakeParams{
		Protocol: "vnc",
		Hostname: "10.0.0.9",
		Width:    "800",
		Height:   "600",
	}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	seen := <-script
	connect := seen[len(seen)-1]
	want := []string{"VERSION_1_5_0", "10.0.0.9", "", ""}
	if !reflect.DeepEqual(connect.Args, want) {
		t.Errorf("connect args = %q, want %q", connect.Args, want)
	}
}

func TestHandshakeRejectsNonArgsReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		r := NewInstructionReader(server)
		r.ReadInstruction()
		server.Write([]byte(EncodeInstruction("nack")))
	}()

	if err := Handshake(client, HandshakeParams{Protocol: "rdp"}); err == nil {
		t.Error("want error when guacd does not answer with args")
	}
}
