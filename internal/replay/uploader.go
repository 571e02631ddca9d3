package replay

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/rjsadow/drawbridge/internal/audit"
)

// Uploader moves finished cast files into the Store and records the upload.
type Uploader struct {
	store Store
	sink  audit.Sink
}

// NewUploader wires a store to the audit sink.
func NewUploader(store Store, sink audit.Sink) *Uploader {
	return &Uploader{store: store, sink: sink}
}

// Upload saves the local cast file under the session tag, submits the
// replay audit record and removes the local copy. Every failure is logged;
// none of them propagate, so session teardown is never delayed or broken
// by storage trouble.
func (u *Uploader) Upload(ctx context.Context, localPath, tag string, assetID, accountID, userID int64) {
	f, err := os.Open(localPath)
	if err != nil {
		log.Printf("replay: cannot open %s: %v", localPath, err)
		return
	}

	name := tag + filepath.Ext(localPath)
	url, err := u.store.Save(name, f)
	f.Close()
	if err != nil {
		log.Printf("replay: upload of %s failed: %v", localPath, err)
		return
	}

	u.sink.SubmitReplay(ctx, audit.Replay{
		Tag:       tag,
		Filename:  filepath.Base(localPath),
		URL:       url,
		AssetID:   assetID,
		AccountID: accountID,
		UserID:    userID,
	})

	if err := os.Remove(localPath); err != nil {
		log.Printf("replay: cannot remove local copy %s: %v", localPath, err)
	}
}
