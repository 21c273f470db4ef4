// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Above this size blobs are decoded as a stream instead of in one shot.
const streamingThreshold = 50 * 1024 * 1024

// compressionManager pools zstd encoders and decoders
type compressionManager struct {
	level int

	encoders sync.Pool
	decoders sync.Pool
	bufs     sync.Pool
}

func newCompressionManager(level int) (*compressionManager, error) {
	// Create encoder/decoder for validation
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}
	dec.Close()

	cm := &compressionManager{
		level: level,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil,
					zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
					zstd.WithEncoderConcurrency(1),
				)
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
				)
				return dec
			},
		},
		bufs: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024*1024)) // 1MB
			},
		},
	}

	return cm, nil
}

// compressTo streams src through an encoder into w.
func (cm *compressionManager) compressTo(w io.Writer, src io.Reader) error {
	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	enc.Reset(w)
	if _, err := io.Copy(enc, src); err != nil {
		return fmt.Errorf("streaming compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	return nil
}

// decompress decodes a whole blob
func (cm *compressionManager) decompress(content []byte) ([]byte, error) {
	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	if len(content) > streamingThreshold {
		return cm.decompressStream(dec, content)
	}
	return dec.DecodeAll(content, nil)
}

// decompressStream handles large content decompression
func (cm *compressionManager) decompressStream(dec *zstd.Decoder, content []byte) ([]byte, error) {
	buf := cm.bufs.Get().(*bytes.Buffer)
	defer cm.bufs.Put(buf)
	buf.Reset()

	if err := dec.Reset(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("resetting decoder: %w", err)
	}
	if _, err := io.Copy(buf, dec); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}

	// buf goes back to the pool
	return bytes.Clone(buf.Bytes()), nil
}
