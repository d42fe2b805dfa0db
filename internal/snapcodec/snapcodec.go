// Package snapcodec compresses and decompresses `.crdtsnapshot` files: a
// Zstd-compressed copy of a CRDT document's full state, written
// periodically so NoteDoc.load does not have to replay every log record
// from the beginning of time. Grounded on the chunked
// Zstd usage in the wider example pack's file manager
// (kluzzebass-gastrolog's internal/chunk file manager), which is the one
// repo in the corpus that actually exercises klauspost/compress/zstd.
package snapcodec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
)

// level is Zstd level 3.3, expressed through klauspost's
// named speed tiers (EncoderLevelFromZstd(3) == SpeedDefault).
const level = zstd.SpeedDefault

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// Compress returns the Zstd-compressed form of state.
func Compress(state []byte) ([]byte, error) {
	enc, err := getEncoder()
	if err != nil {
		return nil, ncerr.New(ncerr.KindInternal, "snapcodec.Compress", err)
	}
	return enc.EncodeAll(state, nil), nil
}

// Decompress reverses Compress. A corrupt or truncated frame is reported as
// ncerr.KindCorrupt
// callers fall back to full log replay rather than surfacing this to the
// user.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := getDecoder()
	if err != nil {
		return nil, ncerr.New(ncerr.KindInternal, "snapcodec.Decompress", err)
	}
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, ncerr.New(ncerr.KindCorrupt, "snapcodec.Decompress", fmt.Errorf("invalid zstd frame: %w", err))
	}
	return out, nil
}

// DecompressWithFallback reverses Compress, but returns compressed
// unchanged (instead of an error) if it is not a valid Zstd frame — a
// legacy-compatibility path.3 for uncompressed snapshot
// files written by an older format version.
func DecompressWithFallback(compressed []byte) []byte {
	out, err := Decompress(compressed)
	if err != nil {
		return compressed
	}
	return out
}

// WriteSnapshot compresses state and writes it to path via a (flag-byte
// aware, since snapshots live under notes/<id>/snapshots/).
func WriteSnapshot(a fsadapter.Adapter, path string, state []byte) error {
	compressed, err := Compress(state)
	if err != nil {
		return err
	}
	return a.WriteFile(path, compressed)
}

// ReadSnapshot reads and decompresses path. If the underlying file is
// merely Incomplete (writer in progress) or missing, that ncerr.Kind is
// returned unchanged so NoteDoc.load can decide to fall back to full log
// replay without misreporting it as Corrupt.
func ReadSnapshot(a fsadapter.Adapter, path string) ([]byte, error) {
	compressed, err := a.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decompress(compressed)
}
