package provider

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names an artifact compression algorithm
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionLZ4  CompressionType = "lz4"
	CompressionZstd CompressionType = "zstd"
)

// ParseCompressionType accepts case-insensitive names; empty means none
func ParseCompressionType(raw string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip:
		return CompressionGzip, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", raw)
	}
}

// Compressor compresses artifacts with one algorithm
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	DefaultLevel() int
	LevelRange() (min, max int)
}

// Codec dispatches to the registered compressors
type Codec struct {
	compressors map[CompressionType]Compressor
}

// NewCodec creates a codec with gzip, lz4 and zstd registered
func NewCodec() *Codec {
	return &Codec{
		compressors: map[CompressionType]Compressor{
			CompressionGzip: gzipCompressor{},
			CompressionLZ4:  lz4Compressor{},
			CompressionZstd: zstdCompressor{},
		},
	}
}

// Compress compresses data; an out-of-range level falls back to the default
func (c *Codec) Compress(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	if algorithm == CompressionNone || algorithm == "" {
		return data, nil
	}

	compressor, ok := c.compressors[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	if lo, hi := compressor.LevelRange(); level < lo || level > hi {
		level = compressor.DefaultLevel()
	}
	return compressor.Compress(data, level)
}

// Decompress reverses Compress
func (c *Codec) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionNone || algorithm == "" {
		return data, nil
	}

	compressor, ok := c.compressors[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	return compressor.Decompress(data)
}

type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
	}
	return out, nil
}

func (gzipCompressor) DefaultLevel() int      { return gzip.DefaultCompression }
func (gzipCompressor) LevelRange() (int, int) { return gzip.BestSpeed, gzip.BestCompression }

type lz4Compressor struct{}

func (lz4Compressor) DefaultLevel() int      { return 1 }
func (lz4Compressor) LevelRange() (int, int) { return 1, 12 }

func (lz4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to set lz4 level: %w", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress lz4 data: %w", err)
	}
	return out, nil
}

type zstdCompressor struct{}

func (zstdCompressor) DefaultLevel() int      { return 3 }
func (zstdCompressor) LevelRange() (int, int) { return 1, 22 }

func (zstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd data: %w", err)
	}
	return out, nil
}
