package bodydigest

import "bytes"

// ReplayReader is an independently-positioned read view over an
// already-materialized body. Each reader starts at offset 0 and its cursor
// is unaffected by other readers over the same bytes.
type ReplayReader struct {
	r *bytes.Reader
}

// NewReplayReader returns a reader over body, positioned at offset 0.
func NewReplayReader(body []byte) *ReplayReader {
	return &ReplayReader{r: bytes.NewReader(body)}
}

// Read implements io.Reader.
func (r *ReplayReader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Close implements io.Closer. It is a no-op: the underlying bytes are owned
// by the Wrapper, not the reader.
func (r *ReplayReader) Close() error {
	return nil
}

// Finished reports whether the cursor has reached the end of the body.
func (r *ReplayReader) Finished() bool {
	return r.r.Len() == 0
}

// Ready always reports true: the body is already in memory, so reads never
// block on I/O.
func (r *ReplayReader) Ready() bool {
	return true
}
