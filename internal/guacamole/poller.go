package guacamole

import (
	"fmt"
	"log"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollCeilingMillis caps each poll(2) wait so newly registered
// connections are picked up within a second.
const pollCeilingMillis = 1000

type pollEntry struct {
	conn    syscall.Conn
	fd      int
	handler func()
}

// Poller is the process-wide readiness multiplexer shared by all guacd
// sessions. One background worker polls every registered socket; it starts
// when the registry becomes non-empty and exits when it empties again.
type Poller struct {
	mu      sync.Mutex
	entries map[int]*pollEntry
	running bool
}

// NewPoller creates an empty poller. The worker starts on first Register.
func NewPoller() *Poller {
	return &Poller{entries: make(map[int]*pollEntry)}
}

// Register adds a connection. handler is invoked from the worker goroutine
// whenever the socket becomes readable; it must consume the readable data
// or the worker will spin on the same readiness.
func (p *Poller) Register(conn syscall.Conn, handler func()) error {
	fd, err := connFD(conn)
	if err != nil {
		return fmt.Errorf("register poll entry: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[fd] = &pollEntry{conn: conn, fd: fd, handler: handler}
	if !p.running {
		p.running = true
		go p.loop()
	}
	return nil
}

// Unregister removes a connection by its current descriptor. When the
// descriptor cannot be resolved or is not registered (the client rotated
// its socket), the registry is swept instead: entries whose connection no
// longer reports the recorded descriptor are evicted. The sweep is
// best-effort and not race-free against concurrent rotation.
func (p *Poller) Unregister(conn syscall.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd, err := connFD(conn); err == nil {
		if _, ok := p.entries[fd]; ok {
			delete(p.entries, fd)
			return
		}
	}
	for fd, e := range p.entries {
		if live, err := connFD(e.conn); err != nil || live != fd {
			delete(p.entries, fd)
		}
	}
}

// Size reports the number of registered connections.
func (p *Poller) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Poller) loop() {
	for {
		p.mu.Lock()
		if len(p.entries) == 0 {
			p.running = false
			p.mu.Unlock()
			return
		}
		fds := make([]unix.PollFd, 0, len(p.entries))
		handlers := make(map[int32]func(), len(p.entries))
		for fd, e := range p.entries {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			handlers[int32(fd)] = e.handler
		}
		p.mu.Unlock()

		n, err := unix.Poll(fds, pollCeilingMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Printf("poller: poll failed: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		for _, pfd := range fds {
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) == 0 {
				continue
			}
			p.dispatch(handlers[pfd.Fd])
		}
	}
}

// dispatch shields the worker from handler panics.
func (p *Poller) dispatch(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("poller: handler panicked: %v", r)
		}
	}()
	handler()
}

// connFD extracts the current file descriptor of a connection.
func connFD(conn syscall.Conn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}
