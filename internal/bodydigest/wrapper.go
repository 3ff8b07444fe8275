// Package bodydigest buffers an inbound request body exactly once, within a
// configured size limit, and serves memoized content digests and replayable
// readers over the buffered bytes. Signature validators and the eventual
// request handler can each read the full body independently without touching
// the underlying (single-use) source stream more than once.
package bodydigest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Algorithm identifies a supported content digest algorithm. The set is
// fixed: MD5, SHA1, and SHA256.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{MD5, SHA1, SHA256}

// chunkSize is the read granularity during buffering.
const chunkSize = 4096

// SizeError reports a request body that exceeded the configured limit while
// buffering. The partially buffered bytes are discarded, never exposed.
// Callers should treat it as a request-rejection signal (413), distinct from
// transport-level read failures.
type SizeError struct {
	Limit int64
}

// Error implements the error interface.
func (e *SizeError) Error() string {
	return fmt.Sprintf("request body exceeds %d byte limit", e.Limit)
}

// state tracks the one-way buffering lifecycle.
type state int

const (
	stateUnbuffered state = iota
	stateBuffering
	stateBuffered
	stateFailed
)

// Wrapper owns the one-time materialization of a request body and the digest
// cache over it. One Wrapper is created per inbound request and discarded
// with it.
//
// A Wrapper is not safe for concurrent use: it assumes the single-owner,
// one-goroutine-per-request model. Callers sharing an instance must
// serialize access externally.
type Wrapper struct {
	src       io.ReadCloser
	maxLength int64

	state state
	body  []byte // set only on successful buffering; may be empty
	err   error  // set only on failed buffering

	digests map[Algorithm][]byte
}

// Wrap borrows src and returns a Wrapper bounded by maxLength bytes.
// src may be nil, which is treated as an empty body.
func Wrap(src io.ReadCloser, maxLength int64) *Wrapper {
	return &Wrapper{
		src:       src,
		maxLength: maxLength,
		digests:   make(map[Algorithm][]byte, len(Algorithms)),
	}
}

// Buffer materializes the body if it has not been materialized yet. It is
// idempotent: the source is read at most once over the Wrapper's lifetime,
// and a failed attempt is never retried — subsequent calls return the stored
// error. The source is closed (best effort) after the single read attempt,
// regardless of outcome.
func (w *Wrapper) Buffer() error {
	switch w.state {
	case stateBuffered:
		return nil
	case stateFailed:
		return w.err
	}

	w.state = stateBuffering
	body, err := w.readAll()
	if w.src != nil {
		// The source is single-use; close errors never surface.
		_ = w.src.Close()
	}
	if err != nil {
		w.state = stateFailed
		w.err = err
		return err
	}
	w.body = body
	w.state = stateBuffered
	return nil
}

// readAll consumes the source in fixed-size chunks, enforcing the limit on a
// running byte count so an oversized body is rejected as soon as it crosses
// the limit, without reading the remainder.
func (w *Wrapper) readAll() ([]byte, error) {
	if w.src == nil {
		return nil, nil
	}

	var out bytes.Buffer
	buf := make([]byte, chunkSize)
	var count int64
	for {
		n, err := w.src.Read(buf)
		if n > 0 {
			count += int64(n)
			if count > w.maxLength {
				return nil, &SizeError{Limit: w.maxLength}
			}
			out.Write(buf[:n])
		}
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}
}

// Digest returns the content digest of the body for the given algorithm,
// buffering the body first if needed. The result is memoized: the digest is
// computed at most once per algorithm and is byte-stable across calls.
//
// A zero-length body yields (nil, nil) — "no content" — never the digest of
// an empty byte sequence. Buffering failures (including *SizeError) are
// propagated.
func (w *Wrapper) Digest(alg Algorithm) ([]byte, error) {
	if d, ok := w.digests[alg]; ok {
		return d, nil
	}
	if err := w.Buffer(); err != nil {
		return nil, err
	}
	if len(w.body) == 0 {
		return nil, nil
	}

	var d []byte
	switch alg {
	case MD5:
		sum := md5.Sum(w.body)
		d = sum[:]
	case SHA1:
		sum := sha1.Sum(w.body)
		d = sum[:]
	case SHA256:
		sum := sha256.Sum256(w.body)
		d = sum[:]
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	w.digests[alg] = d
	return d, nil
}

// HexDigest returns the lowercase hex encoding of Digest(alg), or "" for a
// body with no content.
func (w *Wrapper) HexDigest(alg Algorithm) (string, error) {
	d, err := w.Digest(alg)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", nil
	}
	return hex.EncodeToString(d), nil
}

// Buffered reports whether the body has been successfully materialized.
func (w *Wrapper) Buffered() bool {
	return w.state == stateBuffered
}

// Len returns the materialized body length. ok is false until buffering has
// succeeded; a zero length with ok true means a body-less request.
func (w *Wrapper) Len() (n int64, ok bool) {
	if w.state != stateBuffered {
		return 0, false
	}
	return int64(len(w.body)), true
}

// Body returns a readable stream of the request body.
//
// Once buffered, every call returns a fresh *ReplayReader positioned at
// offset 0, independent of any other reader. Before buffering it delegates
// directly to the source (pass-through), so consumers that never need a
// digest avoid the memory cost of buffering. After a failed buffering
// attempt it returns the stored error.
func (w *Wrapper) Body() (io.ReadCloser, error) {
	switch w.state {
	case stateBuffered:
		return NewReplayReader(w.body), nil
	case stateFailed:
		return nil, w.err
	default:
		if w.src == nil {
			return NewReplayReader(nil), nil
		}
		return w.src, nil
	}
}
