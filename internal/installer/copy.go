package installer

import (
	"context"
	"io"

	"github.com/EikeiDev/apkupdateross/internal/progress"
)

// ProgressThreshold is the minimum number of new bytes between two progress
// emissions within one part.
const ProgressThreshold = 64 * 1024

const copyBufferSize = 32 * 1024

// copyWithProgress copies src to dst and reports offset+copied to rep every
// ProgressThreshold bytes and once more at the end of the part. It stops at
// the next chunk boundary once ctx is done.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, id int, offset int64, rep Reporter) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var copied, lastEmitted int64

	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return copied, werr
			}
			copied += int64(n)
			if copied-lastEmitted >= ProgressThreshold {
				rep.EmitProgress(progress.Progress{ID: id, Transferred: offset + copied})
				lastEmitted = copied
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return copied, rerr
		}
	}

	rep.EmitProgress(progress.Progress{ID: id, Transferred: offset + copied})
	return copied, nil
}
