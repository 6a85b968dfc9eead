package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive byte span of a media file.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) Header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads a single-span Range header against a file of size bytes.
// ok is false when the header is empty. Multi-span requests are answered
// with their first span only.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	if header == "" {
		return ByteRange{}, false, nil
	}
	spans, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}
	spans, _, _ = strings.Cut(spans, ",")
	first, last, found := strings.Cut(strings.TrimSpace(spans), "-")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false, ErrInvalidRange
		}
		if size == 0 {
			return ByteRange{}, false, ErrUnsatisfiable
		}
		return ByteRange{Start: max(size-n, 0), End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false, ErrInvalidRange
	}
	end := size - 1
	if last != "" {
		if end, err = strconv.ParseInt(last, 10, 64); err != nil {
			return ByteRange{}, false, ErrInvalidRange
		}
	}
	if start > end || start >= size {
		return ByteRange{}, false, ErrUnsatisfiable
	}
	return ByteRange{Start: start, End: min(end, size-1)}, true, nil
}
