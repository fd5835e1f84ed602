// Package archive compresses the conversation prefixes that
// ReplacePrefixWithSummary displaces, so the raw message history survives
// for audit/debugging without counting against context budget.
package archive

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// encoder and decoder are reused across calls; both are safe for concurrent
// use per the klauspost/compress docs.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder init failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder init failed: " + err.Error())
	}
}

// Compress returns the zstd-compressed form of data.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, nil)
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
