// Package archive stores the raw process output of a judged submission as
// zstd-compressed JSON in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ojsubmit/internal/common/storage"
	"ojsubmit/internal/judge/result"
	appErr "ojsubmit/pkg/errors"
	"ojsubmit/pkg/submissionid"

	"github.com/klauspost/compress/zstd"
)

const (
	keyPrefix   = "results/"
	keySuffix   = ".json.zst"
	contentType = "application/zstd"
)

// Bundle is the archived payload of one submission.
type Bundle struct {
	SubmissionID string                  `json:"submission_id"`
	Prepare      *result.ProcessOutput   `json:"prepare,omitempty"`
	Tests        []result.TestcaseResult `json:"tests"`
	ArchivedAt   int64                   `json:"archived_at"`
}

// Codec compresses bundles. It is safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec at the given zstd level.
func NewCodec(level zstd.EncoderLevel) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode marshals and compresses b.
func (c *Codec) Encode(b Bundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle failed: %w", err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses and unmarshals data.
func (c *Codec) Decode(data []byte) (Bundle, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return Bundle{}, fmt.Errorf("decompress bundle failed: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("unmarshal bundle failed: %w", err)
	}
	return b, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// ObjectKey returns the storage key of the archive for id.
func ObjectKey(id submissionid.ID) string {
	return keyPrefix + id.String() + keySuffix
}

// Archiver writes and reads bundles in one bucket.
type Archiver struct {
	storage storage.ObjectStorage
	bucket  string
	codec   *Codec
	timeout time.Duration
}

// NewArchiver creates an archiver. A zero timeout disables the per-call deadline.
func NewArchiver(store storage.ObjectStorage, bucket string, codec *Codec, timeout time.Duration) *Archiver {
	return &Archiver{storage: store, bucket: bucket, codec: codec, timeout: timeout}
}

// Store uploads the raw outputs of a resolved submission and returns the object key.
func (a *Archiver) Store(ctx context.Context, id submissionid.ID, prepare *result.ProcessOutput, tests []result.TestcaseResult) (string, error) {
	data, err := a.codec.Encode(Bundle{
		SubmissionID: id.String(),
		Prepare:      prepare,
		Tests:        tests,
		ArchivedAt:   time.Now().Unix(),
	})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.ArchiveFailed, "encode archive failed")
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	key := ObjectKey(id)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", appErr.Wrapf(err, appErr.ArchiveFailed, "upload archive failed")
	}
	return key, nil
}

// Load fetches the archive of id.
func (a *Archiver) Load(ctx context.Context, id submissionid.ID) (Bundle, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	reader, err := a.storage.GetObject(ctx, a.bucket, ObjectKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Bundle{}, appErr.New(appErr.NotFound).WithMessage("archive not found")
		}
		return Bundle{}, appErr.Wrapf(err, appErr.ArchiveFailed, "download archive failed")
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return Bundle{}, appErr.Wrapf(err, appErr.ArchiveFailed, "read archive failed")
	}
	b, err := a.codec.Decode(data)
	if err != nil {
		return Bundle{}, appErr.Wrapf(err, appErr.ArchiveFailed, "decode archive failed")
	}
	return b, nil
}

func (a *Archiver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
