package guacamole

import (
	"log"
	"net"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ClientConn is the websocket surface a guacd session writes to.
type ClientConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session relays guacd instructions for one remote-desktop connection.
// Client frames are complete instructions and pass to guacd verbatim; the
// reverse direction is driven by the shared poller, which wakes the
// session whenever its socket has data.
type Session struct {
	ws     ClientConn
	guacd  *net.TCPConn
	poller *Poller
	reader *InstructionReader

	closeOnce sync.Once
}

// NewSession wraps an already-handshaken guacd connection.
func NewSession(ws ClientConn, guacd *net.TCPConn, poller *Poller) *Session {
	return &Session{
		ws:     ws,
		guacd:  guacd,
		poller: poller,
		reader: NewInstructionReader(guacd),
	}
}

// Start registers the guacd socket with the poller.
func (s *Session) Start() error {
	return s.poller.Register(s.guacd, func() {
		if err := s.reader.ReadSome(); err != nil {
			s.Close()
			return
		}
		s.onReadable()
	})
}

// HandleClientText writes one client instruction frame to guacd verbatim.
func (s *Session) HandleClientText(data []byte) {
	if _, err := s.guacd.Write(data); err != nil {
		log.Printf("guacamole: write to guacd failed: %v", err)
		s.Close()
	}
}

// onReadable forwards every buffered complete instruction to the client.
// A 5.error instruction is still forwarded, then ends the session.
func (s *Session) onReadable() {
	for {
		raw, ok, err := s.reader.Next()
		if err != nil {
			log.Printf("guacamole: broken instruction stream: %v", err)
			s.Close()
			return
		}
		if !ok {
			return
		}
		if werr := s.ws.WriteMessage(websocket.TextMessage, []byte(raw)); werr != nil {
			s.Close()
			return
		}
		if strings.HasPrefix(raw, "5.error") {
			s.Close()
			return
		}
	}
}

// Close unregisters from the poller and closes both ends. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.poller.Unregister(s.guacd)
		s.guacd.Close()
		s.ws.Close()
	})
}
