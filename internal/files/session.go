package files

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/wire"
)

// Client-facing messages. The strings are part of the protocol the browser
// frontend matches on and must stay byte-identical.
const (
	msgConnected     = "connection success"
	msgBadParams     = "参数不正确！"
	msgDuplicateFile = "已存在同名文件"
	msgNoSuchDir     = "没有那个文件或目录"
	msgFilesOnly     = "仅支持文件下载！"
	msgUnsupported   = "暂不支持的文件操作！"
	msgBadUpload     = "上传文件参数不正确"
	msgDownloadFail  = "下载失败"
	msgSuccess       = "success"
)

// downloadChunkSize is the binary frame size for file downloads.
const downloadChunkSize = 32 * 1024

// ClientConn is the websocket surface a file session writes to.
type ClientConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Transport is the backend filesystem a session operates on. Implemented by
// backend.FileClient over SFTP.
type Transport interface {
	Tag() string
	Home() string
	ReadDir(path string) ([]os.FileInfo, error)
	Mkdir(path string) error
	Create(path string) (io.WriteCloser, error)
	OpenAppend(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (os.FileInfo, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Close() error
}

// Config carries the session collaborators and identity for audit records.
type Config struct {
	Principal directory.Principal
	Asset     *directory.Asset
	Account   *directory.Account
	Audit     audit.Sink
}

type transferMode int

const (
	modeNone transferMode = iota
	modeUpload
	modeDownload
)

type uploadMeta struct {
	originPath string
	filename   string
	targetPath string
}

// Session is the file-manager state machine for one websocket. The gateway
// drives it from the websocket read loop, so all state is confined to that
// goroutine; only Close may be called from elsewhere.
type Session struct {
	cfg Config
	ws  ClientConn
	fs  Transport

	cwd  string // always under home; home is the navigation floor
	home string

	mode     transferMode
	uploadFD io.WriteCloser
	upload   *uploadMeta

	closeOnce sync.Once
}

// NewSession pins the working directory at the transport's home root and
// sends the connect acknowledgment.
func NewSession(ws ClientConn, fs Transport, cfg Config) *Session {
	s := &Session{
		cfg:  cfg,
		ws:   ws,
		fs:   fs,
		cwd:  fs.Home(),
		home: fs.Home(),
	}
	s.sendFrame(wire.Success, msgConnected)
	return s
}

// Tag identifies this session in audit records.
func (s *Session) Tag() string { return s.fs.Tag() }

// Cwd returns the current remote working directory.
func (s *Session) Cwd() string { return s.cwd }

// HandleControl dispatches one JSON control frame.
func (s *Session) HandleControl(data []byte) {
	ctl, err := DecodeControl(data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedOp) {
			s.sendFrame(wire.Error, msgUnsupported)
			return
		}
		s.sendFrame(wire.Error, msgBadParams)
		return
	}

	switch c := ctl.(type) {
	case ListDir:
		s.replyListing()
	case Mkdir:
		s.handleMkdir(c)
	case Mkfile:
		s.handleMkfile(c)
	case Rename:
		s.handleRename(c)
	case Delete:
		s.handleDelete(c)
	case Cwd:
		s.handleCwd(c)
	case Upload:
		s.handleUpload(c)
	case Download:
		s.handleDownload(c)
	case Finish:
		s.handleFinish()
	}
}

// HandleBinary consumes one binary frame. Payload frames only make sense
// while an upload is open; empty frames are ignored.
func (s *Session) HandleBinary(data []byte) {
	if len(data) == 0 {
		return
	}
	if s.mode != modeUpload || s.uploadFD == nil {
		s.sendFrame(wire.Error, msgBadUpload)
		return
	}
	if _, err := s.uploadFD.Write(data); err != nil {
		log.Printf("files %s: upload write failed: %v", s.Tag(), err)
		s.sendFrame(wire.Error, err.Error())
		s.abortUpload()
	}
}

func (s *Session) handleMkdir(c Mkdir) {
	if c.Name == "" {
		s.sendFrame(wire.Error, msgBadParams)
		return
	}
	if err := s.fs.Mkdir(path.Join(s.cwd, c.Name)); err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	s.replyListing()
}

func (s *Session) handleMkfile(c Mkfile) {
	if c.Name == "" {
		s.sendFrame(wire.Error, msgBadParams)
		return
	}
	f, err := s.fs.Create(path.Join(s.cwd, c.Name))
	if err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	f.Close()
	s.replyListing()
}

func (s *Session) handleRename(c Rename) {
	if c.OldName == "" || c.NewName == "" {
		s.sendFrame(wire.Error, msgBadParams)
		return
	}
	oldPath := path.Join(s.cwd, c.OldName)
	newPath := path.Join(s.cwd, c.NewName)
	if err := s.fs.Rename(oldPath, newPath); err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	s.submitFileOp(audit.FileOperation{
		Op:         wire.Rename,
		OriginPath: oldPath,
		TargetPath: newPath,
		Filename:   c.NewName,
	})
	s.replyListing()
}

func (s *Session) handleDelete(c Delete) {
	if c.Filename == "" {
		s.sendFrame(wire.Error, msgBadParams)
		return
	}
	target := path.Join(s.cwd, c.Filename)
	var err error
	if c.IsDir {
		err = s.fs.RemoveDirectory(target)
	} else {
		err = s.fs.Remove(target)
	}
	if err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	s.submitFileOp(audit.FileOperation{
		Op:         wire.Delete,
		OriginPath: target,
		Filename:   c.Filename,
	})
	s.replyListing()
}

// handleCwd navigates the working directory. No dir_name means "up one
// level", except at the home root which is the floor clients cannot leave.
func (s *Session) handleCwd(c Cwd) {
	target := s.cwd
	if c.DirName != "" {
		target = path.Join(s.cwd, c.DirName)
	} else if s.cwd != s.home {
		target = path.Dir(s.cwd)
	}
	target = path.Clean(target)
	if !withinHome(s.home, target) {
		target = s.home
	}

	fi, err := s.fs.Stat(target)
	if err != nil || !fi.IsDir() {
		s.sendFrame(wire.Error, msgNoSuchDir)
		return
	}
	s.cwd = target
	s.replyListing()
}

func (s *Session) handleUpload(c Upload) {
	if c.OriginPath == "" || c.Filename == "" {
		s.sendFrame(wire.Error, msgBadUpload)
		return
	}
	target := path.Join(s.cwd, c.Filename)
	if _, err := s.fs.Stat(target); err == nil {
		s.sendFrame(wire.Error, msgDuplicateFile)
		return
	}

	fd, err := s.fs.OpenAppend(target)
	if err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	if s.uploadFD != nil {
		s.uploadFD.Close()
	}
	s.uploadFD = fd
	s.upload = &uploadMeta{originPath: c.OriginPath, filename: c.Filename, targetPath: target}
	s.mode = modeUpload
	s.sendFrame(wire.Success, msgSuccess)
}

func (s *Session) handleDownload(c Download) {
	if c.Filename == "" {
		s.sendFrame(wire.Error, msgBadParams)
		return
	}
	target := path.Join(s.cwd, c.Filename)

	fi, err := s.fs.Stat(target)
	if err != nil {
		s.sendFrame(wire.Error, msgDownloadFail)
		return
	}
	if fi.IsDir() {
		s.sendFrame(wire.Error, msgFilesOnly)
		return
	}

	f, err := s.fs.Open(target)
	if err != nil {
		s.sendFrame(wire.Error, msgDownloadFail)
		return
	}
	defer f.Close()

	s.mode = modeDownload
	defer func() { s.mode = modeNone }()

	var total int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			total += int64(n)
			if werr := s.ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				log.Printf("files %s: download send failed: %v", s.Tag(), werr)
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			s.sendFrame(wire.Error, msgDownloadFail)
			return
		}
	}
	// Empty binary frame is the end-of-stream sentinel.
	if err := s.ws.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
		log.Printf("files %s: download sentinel failed: %v", s.Tag(), err)
		return
	}

	s.submitFileOp(audit.FileOperation{
		Op:         wire.Download,
		OriginPath: target,
		Filename:   c.Filename,
		FileSize:   total,
	})
}

func (s *Session) handleFinish() {
	if s.uploadFD != nil {
		s.uploadFD.Close()
		s.uploadFD = nil
	}
	if s.upload != nil {
		s.submitFileOp(audit.FileOperation{
			Op:         wire.Upload,
			OriginPath: s.upload.originPath,
			TargetPath: s.upload.targetPath,
			Filename:   s.upload.filename,
			FileSize:   0,
		})
		s.upload = nil
	}
	s.mode = modeNone
	s.replyListing()
}

// Close releases the upload fd (an interrupted upload keeps what was
// appended so far), the backend transport and the websocket. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.uploadFD != nil {
			s.uploadFD.Close()
			s.uploadFD = nil
		}
		s.fs.Close()
		s.ws.Close()
	})
}

func (s *Session) abortUpload() {
	if s.uploadFD != nil {
		s.uploadFD.Close()
		s.uploadFD = nil
	}
	s.upload = nil
	s.mode = modeNone
}

func (s *Session) replyListing() {
	infos, err := s.fs.ReadDir(s.cwd)
	if err != nil {
		s.sendFrame(wire.Error, err.Error())
		return
	}
	entries := make([]Entry, 0, len(infos))
	for i, fi := range infos {
		entries = append(entries, Entry{Name: fi.Name(), IsDir: fi.IsDir(), ID: i})
	}
	if err := s.ws.WriteMessage(websocket.TextMessage, MarshalListing(entries)); err != nil {
		log.Printf("files %s: listing send failed: %v", s.Tag(), err)
	}
}

func (s *Session) sendFrame(code wire.WsCode, message string) {
	if err := s.ws.WriteMessage(websocket.TextMessage, wire.Marshal(code, message)); err != nil {
		log.Printf("files %s: frame send failed: %v", s.Tag(), err)
	}
}

func (s *Session) submitFileOp(rec audit.FileOperation) {
	rec.Tag = s.Tag()
	rec.AssetID = s.cfg.Asset.ID
	rec.AccountID = s.cfg.Account.ID
	rec.UserID = s.cfg.Principal.UserID
	s.cfg.Audit.SubmitFileOperation(context.Background(), rec)
}

// withinHome reports whether target equals home or sits underneath it.
func withinHome(home, target string) bool {
	if target == home {
		return true
	}
	return strings.HasPrefix(target, strings.TrimSuffix(home, "/")+"/")
}
