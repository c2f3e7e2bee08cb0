// Package checkpoint implements the engine's binary snapshot layout:
// magic "ZQCK", version, timestamp, account/positions/orders blocks,
// trailing CRC32, each record length-prefixed.
//
// Grounded on events/log.go's CRC32 usage, extended to the checkpoint
// framing this engine needs — that log format has no snapshot framing,
// only an append log, so this record shape is new code written in the
// same binary-I/O idiom (encoding/binary, hash/crc32).
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/zigquant/engine/internal/domain"
)

// Magic identifies a zigQuant checkpoint file.
var Magic = [4]byte{'Z', 'Q', 'C', 'K'}

// Version is the current checkpoint format version.
const Version uint32 = 1

// ErrBadMagic is returned when the leading 4 bytes don't match Magic.
var ErrBadMagic = errors.New("checkpoint: bad magic")

// ErrChecksumMismatch is returned when the trailing CRC32 doesn't match
// the computed checksum of the preceding bytes.
var ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")

// Snapshot is the decoded contents of a checkpoint file.
type Snapshot struct {
	TimestampNs int64
	Account     domain.Account
	Positions   []domain.Position
	Orders      []domain.Order
}

// Encode serializes snap into the checkpoint's binary layout.
//
//	magic "ZQCK" | version u32 | timestamp i64 |
//	account_block | positions_count u32 | positions_block |
//	open_orders_count u32 | orders_block | crc32 u32
//
// Each block is a sequence of length-prefixed gob-encoded records.
func Encode(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, Version); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, snap.TimestampNs); err != nil {
		return nil, err
	}

	if err := writeRecord(&buf, snap.Account); err != nil {
		return nil, fmt.Errorf("checkpoint: encode account: %w", err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(snap.Positions))); err != nil {
		return nil, err
	}
	for _, p := range snap.Positions {
		if err := writeRecord(&buf, p); err != nil {
			return nil, fmt.Errorf("checkpoint: encode position: %w", err)
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(snap.Orders))); err != nil {
		return nil, err
	}
	for _, o := range snap.Orders {
		if err := writeRecord(&buf, o); err != nil {
			return nil, fmt.Errorf("checkpoint: encode order: %w", err)
		}
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode, verifying the magic, version,
// and trailing CRC32.
func Decode(data []byte) (Snapshot, error) {
	if len(data) < 4+4+8+4 {
		return Snapshot{}, fmt.Errorf("checkpoint: truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], Magic[:]) {
		return Snapshot{}, ErrBadMagic
	}

	body := data[:len(data)-4]
	wantSum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != wantSum {
		return Snapshot{}, ErrChecksumMismatch
	}

	r := bytes.NewReader(data[4:])
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := binary.Read(r, binary.LittleEndian, &snap.TimestampNs); err != nil {
		return Snapshot{}, err
	}

	if err := readRecord(r, &snap.Account); err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint: decode account: %w", err)
	}

	var posCount uint32
	if err := binary.Read(r, binary.LittleEndian, &posCount); err != nil {
		return Snapshot{}, err
	}
	snap.Positions = make([]domain.Position, posCount)
	for i := range snap.Positions {
		if err := readRecord(r, &snap.Positions[i]); err != nil {
			return Snapshot{}, fmt.Errorf("checkpoint: decode position %d: %w", i, err)
		}
	}

	var orderCount uint32
	if err := binary.Read(r, binary.LittleEndian, &orderCount); err != nil {
		return Snapshot{}, err
	}
	snap.Orders = make([]domain.Order, orderCount)
	for i := range snap.Orders {
		if err := readRecord(r, &snap.Orders[i]); err != nil {
			return Snapshot{}, fmt.Errorf("checkpoint: decode order %d: %w", i, err)
		}
	}

	return snap, nil
}

func writeRecord(buf *bytes.Buffer, v interface{}) error {
	var rec bytes.Buffer
	if err := gob.NewEncoder(&rec).Encode(v); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(rec.Len())); err != nil {
		return err
	}
	_, err := buf.Write(rec.Bytes())
	return err
}

func readRecord(r *bytes.Reader, v interface{}) error {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}
