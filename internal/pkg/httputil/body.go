package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrEmptyBody       = errors.New("empty body")
)

// ReadBodyStrict reads the whole body up to limit bytes, returning the exact bytes received.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}
