package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is an archive compression format.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec returns the codec for a configuration name.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case CodecNone, CodecZstd, CodecLZ4:
		return Codec(name), nil
	case "":
		return CodecZstd, nil
	}
	return "", fmt.Errorf("unknown archive compression %q", name)
}

// CodecForKey infers the codec from a storage key's extension.
func CodecForKey(key string) Codec {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return CodecZstd
	case strings.HasSuffix(key, ".lz4"):
		return CodecLZ4
	}
	return CodecNone
}

// Extension returns the file extension the codec appends.
func (c Codec) Extension() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecLZ4:
		return ".lz4"
	}
	return ""
}

// zstd encoder and decoder are safe for concurrent use and expensive to
// build, so they are shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes data.
func (c Codec) Compress(data []byte) ([]byte, error) {
	switch c {
	case CodecZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	}
	return data, nil
}

// Decompress decodes data produced by Compress.
func (c Codec) Decompress(data []byte) ([]byte, error) {
	switch c {
	case CodecZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CodecLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	}
	return data, nil
}
