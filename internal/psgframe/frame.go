/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package psgframe implements the PSG wire framing: every chunk is a small
// JSON envelope, optionally followed by a raw binary blob, and every
// framed reply ends with a reply-completion chunk.
package psgframe

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

// ChunkKind identifies the envelope's item_type (spec.md Glossary: "a
// custom chunked envelope format, JSON header followed by optional binary
// data, terminated by a reply-completion chunk").
type ChunkKind string

const (
	KindReplyMessage    ChunkKind = "reply-message"
	KindReplyCompletion ChunkKind = "reply-completion"
	KindBlob            ChunkKind = "blob"
	KindData            ChunkKind = "data"
)

// Severity mirrors the severity levels a reply-message envelope carries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Envelope is the JSON header preceding an optional binary blob.
type Envelope struct {
	ItemType  ChunkKind `json:"item_type"`
	Status    int       `json:"status,omitempty"`
	Code      int       `json:"code,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Message   string    `json:"message,omitempty"`
	BlobLen   int       `json:"blob_len,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Encode renders env as a length-prefixed JSON line followed by blob, if
// any. The length prefix (4-byte big-endian) lets a reader know how many
// bytes of JSON to consume before the raw blob bytes start.
func Encode(env Envelope, blob []byte) ([]byte, error) {
	if len(blob) > 0 {
		env.BlobLen = len(blob)
	}

	j, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(j)))
	buf.Write(hdr[:])
	buf.Write(j)
	buf.Write(blob)

	return buf.Bytes(), nil
}

// Message builds a reply-message envelope chunk: {status, code, severity}.
func Message(status, code int, severity Severity, message string) []byte {
	b, _ := Encode(Envelope{
		ItemType: KindReplyMessage,
		Status:   status,
		Code:     code,
		Severity: severity,
		Message:  message,
	}, nil)
	return b
}

// Completion builds a reply-completion envelope chunk carrying the
// aggregated status and elapsed wall time.
func Completion(status int, elapsedMS int64) []byte {
	return CompletionWithExtra(status, elapsedMS, nil)
}

// CompletionWithExtra is Completion plus arbitrary diagnostic fields — the
// backlog-wait measurement (spec.md §4.4) rides along as extra["backlog_wait_us"].
func CompletionWithExtra(status int, elapsedMS int64, extra map[string]interface{}) []byte {
	b, _ := Encode(Envelope{
		ItemType:  KindReplyCompletion,
		Status:    status,
		ElapsedMS: elapsedMS,
		Extra:     extra,
	}, nil)
	return b
}

// Data builds a data chunk optionally carrying a binary blob.
func Data(blob []byte) []byte {
	b, _ := Encode(Envelope{ItemType: KindData}, blob)
	return b
}

// Decode reads one envelope + optional blob from buf, returning the
// envelope, the blob, and the number of bytes consumed.
func Decode(buf []byte) (Envelope, []byte, int, error) {
	var env Envelope

	if len(buf) < 4 {
		return env, nil, 0, errShortBuffer
	}

	n := int(binary.BigEndian.Uint32(buf[:4]))
	if len(buf) < 4+n {
		return env, nil, 0, errShortBuffer
	}

	if err := json.Unmarshal(buf[4:4+n], &env); err != nil {
		return env, nil, 0, err
	}

	consumed := 4 + n + env.BlobLen
	if len(buf) < consumed {
		return env, nil, 0, errShortBuffer
	}

	var blob []byte
	if env.BlobLen > 0 {
		blob = buf[4+n : consumed]
	}

	return env, blob, consumed, nil
}
