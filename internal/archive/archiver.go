// Package archive streams the object-storage results of one run into a
// single compressed tar archive.
//
// Objects are copied straight from the store into the tar stream, so memory
// use is bounded by one object's transfer buffer, never the whole run. The
// archive is written to a temp file and renamed into place: re-archiving the
// same run replaces any prior archive atomically, and a failed invocation
// never leaves a partial archive at the final path.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"variant-engine/internal/shared/model"
	"variant-engine/internal/shared/objstore"
	"variant-engine/pkg/logging"
)

// Options select the unreadable-object policy. The policy choice is the
// caller's and should be explicit at every call site.
type Options struct {
	// SkipUnreadable logs and skips objects that cannot be read instead of
	// failing the whole archive.
	SkipUnreadable bool
}

// Archiver writes run archives under a fixed directory.
type Archiver struct {
	store objstore.Store
	dir   string
	log   *logging.Logger
}

// New creates an Archiver writing into dir.
func New(store objstore.Store, dir string, log *logging.Logger) *Archiver {
	if log == nil {
		log = logging.Default("archive")
	}
	return &Archiver{store: store, dir: dir, log: log}
}

// Path returns the archive path for runID.
func (a *Archiver) Path(runID string) string {
	return filepath.Join(a.dir, runID+".tar.gz")
}

// ArchiveRun archives every object under the run's prefix.
func (a *Archiver) ArchiveRun(ctx context.Context, runID string, opts Options) (string, error) {
	refs, err := a.store.List(ctx, runID+"/")
	if err != nil {
		return "", fmt.Errorf("%w: list run objects: %v", model.ErrArchiveIO, err)
	}
	return a.Archive(ctx, runID, refs, opts)
}

// Archive streams the referenced objects into one tar.gz, using runID as the
// archive's top-level namespace so objects from different runs never
// collide. Entry layout: {run_id}/{variant_id}/{original object key}.
//
// With opts.SkipUnreadable false, the first unreadable object fails the
// archive with model.ErrArchiveIO and no file appears at the final path.
func (a *Archiver) Archive(ctx context.Context, runID string, refs []string, opts Options) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create archive dir: %v", model.ErrArchiveIO, err)
	}

	tmp, err := os.CreateTemp(a.dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp archive: %v", model.ErrArchiveIO, err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	written := 0
	for _, key := range refs {
		if err := ctx.Err(); err != nil {
			tw.Close()
			gz.Close()
			tmp.Close()
			return "", fmt.Errorf("%w: %v", model.ErrArchiveIO, err)
		}
		if err := a.addObject(ctx, tw, runID, key); err != nil {
			if opts.SkipUnreadable {
				a.log.Warn("skipping unreadable object", "run_id", runID, "key", key, "error", err.Error())
				continue
			}
			tw.Close()
			gz.Close()
			tmp.Close()
			return "", fmt.Errorf("%w: %s: %v", model.ErrArchiveIO, key, err)
		}
		written++
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		tmp.Close()
		return "", fmt.Errorf("%w: finalize tar: %v", model.ErrArchiveIO, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: finalize gzip: %v", model.ErrArchiveIO, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp archive: %v", model.ErrArchiveIO, err)
	}

	path := a.Path(runID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: move archive into place: %v", model.ErrArchiveIO, err)
	}

	a.log.Info("archive written", "run_id", runID, "path", path, "objects", written)
	return path, nil
}

// addObject streams one object into the tar.
func (a *Archiver) addObject(ctx context.Context, tw *tar.Writer, runID, key string) error {
	size, err := a.store.Stat(ctx, key)
	if err != nil {
		return err
	}
	rc, err := a.store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	name := key
	if !strings.HasPrefix(name, runID+"/") {
		name = runID + "/" + name
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    size,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, rc); err != nil {
		return err
	}
	return nil
}
