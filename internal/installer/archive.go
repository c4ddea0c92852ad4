package installer

import (
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// SplitArchive is an opened bundle whose .apk entries make up one install.
type SplitArchive struct {
	rc      *zip.ReadCloser
	entries []*zip.File
}

// OpenSplitArchive opens the zip at path and selects every entry whose name
// contains ".apk", in archive order.
func OpenSplitArchive(path string) (*SplitArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open split archive: %w", err)
	}

	a := &SplitArchive{rc: rc}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || !strings.Contains(f.Name, ".apk") {
			continue
		}
		a.entries = append(a.entries, f)
	}
	if len(a.entries) == 0 {
		rc.Close()
		return nil, fmt.Errorf("split archive %s contains no packages", path)
	}
	return a, nil
}

// Len returns the number of package entries.
func (a *SplitArchive) Len() int { return len(a.entries) }

// TotalSize is the sum of the entries' uncompressed sizes.
func (a *SplitArchive) TotalSize() int64 {
	var total int64
	for _, f := range a.entries {
		total += int64(f.UncompressedSize64)
	}
	return total
}

// Parts returns one Part per entry. Entries are decompressed only when read.
func (a *SplitArchive) Parts() []Part {
	parts := make([]Part, len(a.entries))
	for i, f := range a.entries {
		parts[i] = Part{
			Name:   path.Base(f.Name),
			Reader: &entryReader{file: f},
			Size:   int64(f.UncompressedSize64),
		}
	}
	return parts
}

func (a *SplitArchive) Close() error {
	return a.rc.Close()
}

type entryReader struct {
	file   *zip.File
	mu     sync.Mutex
	rc     io.ReadCloser
	closed bool
}

func (r *entryReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, fmt.Errorf("read %s: closed", r.file.Name)
	}
	if r.rc == nil {
		rc, err := r.file.Open()
		if err != nil {
			return 0, err
		}
		r.rc = rc
	}
	return r.rc.Read(p)
}

func (r *entryReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.rc != nil {
		return r.rc.Close()
	}
	return nil
}
