package ioutil

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by ReadCapped when the body exceeds the cap.
var ErrTooLarge = errors.New("body exceeds size limit")

// ReadCapped reads all of r, failing with ErrTooLarge if more than limit
// bytes are available.
func ReadCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return body[:limit], fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return body, nil
}

// ReadLimited reads up to limit bytes for inclusion in error messages and
// logs. Read failures are described inline instead of returned.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}
