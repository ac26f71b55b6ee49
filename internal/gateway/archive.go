package gateway

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ArchiveEntry is one JSON document extracted from a bulk feed archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// ExtractArchive unpacks the JSON entries of a bulk feed ZIP. The second
// return value is the highest numeric entry name, used by the poller as the
// next `since` watermark; -1 when no entry name is numeric.
func ExtractArchive(raw []byte) ([]ArchiveEntry, int, error) {
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, -1, fmt.Errorf("open archive: %w", err)
	}

	entries := make([]ArchiveEntry, 0, len(r.File))
	watermark := -1
	for _, f := range r.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".json" && ext != ".jsonl" {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, -1, fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, -1, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		entries = append(entries, ArchiveEntry{Name: f.Name, Data: data})

		base := strings.TrimSuffix(path.Base(f.Name), ext)
		if n, err := strconv.Atoi(base); err == nil && n > watermark {
			watermark = n
		}
	}
	return entries, watermark, nil
}
