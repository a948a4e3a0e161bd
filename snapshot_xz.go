//go:build xz

package clockfs

import (
	"io"

	"github.com/ulikunitz/xz"
)

func init() {
	registerSnapshotCodec(snapshotCodec{
		name: "xz",
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
	})
}
