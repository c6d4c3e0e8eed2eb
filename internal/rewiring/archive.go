package rewiring

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/detbox-dev/detbox/internal/classfile"
)

// archiveTime is stamped on every entry so that identical classes always
// produce identical archives.
var archiveTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// WriteArchive writes generated classes to w as a zip, one entry per class
// under its sandboxed name, in name order.
func WriteArchive(w io.Writer, classes []*ByteCode) error {
	sorted := append([]*ByteCode(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	zw := zip.NewWriter(w)
	for _, bc := range sorted {
		hdr := &zip.FileHeader{
			Name:     classfile.EntryName(bc.Name),
			Method:   zip.Deflate,
			Modified: archiveTime,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("write %s: %w", hdr.Name, err)
		}
		if _, err := fw.Write(bc.Bytes); err != nil {
			return fmt.Errorf("write %s: %w", hdr.Name, err)
		}
	}
	return zw.Close()
}
