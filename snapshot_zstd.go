//go:build zstd

package clockfs

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

func init() {
	registerSnapshotCodec(snapshotCodec{
		name: "zstd",
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	})
}
