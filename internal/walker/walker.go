// Package walker locates decodable image files under a directory tree.
package walker

import (
	"errors"
	"io"
	"iter"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"databank/internal/dicom"
	"databank/internal/model"
)

// errStopWalk unwinds the traversal when the consumer stops early.
var errStopWalk = errors.New("walk stopped by consumer")

// Walker traverses a directory tree and decodes every candidate image file.
type Walker struct {
	fsys   billy.Filesystem
	decode model.DecodeFunc
}

// New creates a Walker over the given filesystem using the DICOM metadata
// decoder.
func New(fsys billy.Filesystem) *Walker {
	return NewWithDecoder(fsys, func(r io.ReadSeeker, force bool) (model.ImageRecord, error) {
		return dicom.ReadMetadata(r, force)
	})
}

// NewWithDecoder creates a Walker with a custom decoder.
func NewWithDecoder(fsys billy.Filesystem, decode model.DecodeFunc) *Walker {
	return &Walker{fsys: fsys, decode: decode}
}

// Scan yields a (record, relative path) pair for every file under root the
// decoder can parse, in the traversal order of the underlying directory
// listing. Files that cannot be decoded are logged and skipped; the walk
// never aborts because of one bad file.
//
// The sequence is produced on demand and is single-pass: call Scan again for
// a fresh traversal. force is passed through to the decoder to permit
// reading files without a standard preamble.
func (w *Walker) Scan(root string, force bool) iter.Seq2[model.ImageRecord, string] {
	return func(yield func(model.ImageRecord, string) bool) {
		n := 0
		start := time.Now()
		log.Printf("start processing files: %s", root)

		err := util.Walk(w.fsys, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				log.Printf("cannot access (%v): %s", err, path)
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			n++

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			rel = filepath.Clean(rel)

			// Skip DICOMDIR since every image file it indexes is visited
			// directly anyway.
			if info.Name() == "DICOMDIR" {
				return nil
			}

			log.Printf("read file: %s", rel)
			record, err := w.decodeFile(path, force)
			if err != nil {
				logDecodeFailure(rel, err)
				return nil
			}
			if !yield(record, rel) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			log.Printf("cannot walk (%v): %s", err, root)
		}

		log.Printf("processed %d files in %.2f s: %s", n, time.Since(start).Seconds(), root)
	}
}

func (w *Walker) decodeFile(path string, force bool) (model.ImageRecord, error) {
	f, err := w.fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return w.decode(f, force)
}

func logDecodeFailure(rel string, err error) {
	var missing *dicom.MissingTagError
	switch {
	case errors.Is(err, dicom.ErrNotConformant):
		log.Printf("cannot read nonstandard DICOM file (%v): %s", err, rel)
	case errors.As(err, &missing):
		log.Printf("missing attribute %s: %s", missing.Name, rel)
	default:
		log.Printf("cannot read file (%v): %s", err, rel)
	}
}
