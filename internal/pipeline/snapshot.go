package pipeline

import (
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/frame"
)

// WriteSnapshot encodes the latest delivered frame as PNG.
func (c *Coordinator) WriteSnapshot(w io.Writer) error {
	out := c.LatestOutput()
	if out == nil {
		return errors.Wrap(frame.ErrEmptyFrame, "no frame delivered yet")
	}
	if err := png.Encode(w, out.Image()); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return nil
}

// Snapshot saves the latest delivered frame to dir and returns the file
// path. Names carry the session prefix and capture time so repeated
// snapshots never collide within a session.
func (c *Coordinator) Snapshot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create snapshot dir %s", dir)
	}

	session := c.SessionID()
	if len(session) > 8 {
		session = session[:8]
	}
	if session == "" {
		session = "nosession"
	}
	name := fmt.Sprintf("edges_%s_%s.png", session, c.now().Format("20060102_150405.000"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", path)
	}
	if err := c.WriteSnapshot(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", path)
	}

	c.log.WithFields(logrus.Fields{"path": path}).Info("Snapshot saved")
	return path, nil
}
