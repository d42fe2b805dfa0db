// Package logcodec reads and writes the append-only binary log format that
// backs every note's `.crdtlog` files. The format is a small
// framed-record protocol: a fixed magic+version header, then a stream of
// length-prefixed records that a reader can validate and resume from
// independently of how much of the file has actually landed on disk.
package logcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
)

var magic = [4]byte{'N', 'C', 'L', 'G'}

const version byte = 0x01

const headerLen = 5 // magic (4) + version (1)

// Record is one decoded entry from a .crdtlog file.
type Record struct {
	Timestamp uint64 // ms since epoch
	Sequence  uint64
	Data      []byte
	Offset    int64 // byte offset of this record's length prefix from the start of the file, header included (the first record is at 5)
}

// ValidationResult is the outcome of validateSequences: whether the file is
// well-formed, how many records were read, and a list of human-readable
// problems (empty when Valid is true).
type ValidationResult struct {
	Valid   bool
	Records int
	Errors  []string
}

// OpenWrite ensures path exists with a valid "NCLG"+version header, creating
// it via a.WriteFile (so the flag-byte protocol governs its creation) if
// missing. It is a no-op if the header is already present and valid.
func OpenWrite(a fsadapter.Adapter, path string) error {
	exists, err := a.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		return a.WriteFile(path, header())
	}

	data, err := a.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) < headerLen || !bytes.Equal(data[:4], magic[:]) {
		return ncerr.WithPath(ncerr.KindCorrupt, "logcodec.OpenWrite", path, fmt.Errorf("missing or invalid header"))
	}
	if data[4] != version {
		return ncerr.WithPath(ncerr.KindVersionMismatch, "logcodec.OpenWrite", path,
			fmt.Errorf("unsupported log version %d", data[4]))
	}
	return nil
}

func header() []byte {
	h := make([]byte, headerLen)
	copy(h, magic[:])
	h[4] = version
	return h
}

// AppendRecord encodes and appends one record to path. The caller supplies
// monotonic per-instance ts/seq; logcodec does not track or enforce
// monotonicity (that is NoteDoc's / ActivityLog's job, since only the
// owning instance ever appends to its own file).
func AppendRecord(a fsadapter.Adapter, path string, ts, seq uint64, data []byte) error {
	body := make([]byte, 8, 8+binary.MaxVarintLen64+len(data))
	binary.BigEndian.PutUint64(body, ts)
	body = binary.AppendUvarint(body, seq)
	body = append(body, data...)

	rec := make([]byte, 0, binary.MaxVarintLen64+len(body))
	rec = binary.AppendUvarint(rec, uint64(len(body)))
	rec = append(rec, body...)

	return a.AppendFile(path, rec)
}

// ReadAll decodes every well-formed record in path in order. It stops at the
// first unreadable record and returns what it successfully decoded so far
// together with a *ncerr.Error describing where it stopped — callers that
// only want "give me everything you can" should ignore a Corrupt error with
// Offset set past the desired point; callers implementing validateSequences
// use the error directly.
func ReadAll(a fsadapter.Adapter, path string) ([]Record, error) {
	data, err := a.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) < headerLen {
		return nil, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, 0,
			fmt.Errorf("file shorter than header"))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, 0,
			fmt.Errorf("bad magic"))
	}
	if data[4] != version {
		return nil, ncerr.WithOffset(ncerr.KindVersionMismatch, "logcodec.ReadAll", path, headerLen,
			fmt.Errorf("unsupported log version %d", data[4]))
	}

	var records []Record
	off := headerLen
	for off < len(data) {
		length, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return records, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, int64(off),
				fmt.Errorf("truncated length varint"))
		}
		bodyStart := off + n
		bodyEnd := bodyStart + int(length)
		if bodyEnd > len(data) {
			return records, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, int64(off),
				fmt.Errorf("truncated record: declared length %d exceeds remaining %d bytes", length, len(data)-bodyStart))
		}
		body := data[bodyStart:bodyEnd]
		if len(body) < 8 {
			return records, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, int64(off),
				fmt.Errorf("record body shorter than timestamp field"))
		}
		ts := binary.BigEndian.Uint64(body[:8])
		seq, sn := binary.Uvarint(body[8:])
		if sn <= 0 {
			return records, ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.ReadAll", path, int64(off),
				fmt.Errorf("truncated sequence varint"))
		}
		recData := body[8+sn:]
		out := make([]byte, len(recData))
		copy(out, recData)

		records = append(records, Record{Timestamp: ts, Sequence: seq, Data: out, Offset: int64(off)})
		off = bodyEnd
	}

	return records, nil
}

// ValidateSequences reads every record in path and checks that sequences
// are strictly increasing with no gaps, starting from the first record's
// own sequence number (a log file may begin at any sequence if earlier
// records were trimmed by a future compaction job; compaction is out of
// scope here, so in practice every file starts at 1).
func ValidateSequences(a fsadapter.Adapter, path string) ValidationResult {
	records, err := ReadAll(a, path)

	result := ValidationResult{Records: len(records), Valid: true}

	if len(records) > 0 {
		prev := records[0].Sequence
		for i := 1; i < len(records); i++ {
			seq := records[i].Sequence
			switch {
			case seq == prev:
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("Duplicate sequence at index %d: %d", i, seq))
			case seq < prev:
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("Sequence decrease at index %d: expected >%d, got %d", i, prev, seq))
			case seq != prev+1:
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("Sequence gap at index %d: expected %d, got %d", i, prev+1, seq))
			}
			prev = seq
		}
	}

	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}

	return result
}
