// Package file implements the file-backed ports.StateStore: an append-only,
// gob-encoded, CRC32-checksummed intents log plus an atomically-replaced
// snapshot file, adapted directly from internal/events/log.go's
// record framing (sequence number + gob payload + CRC32 of the payload).
package file

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zigquant/engine/internal/ports"
)

// Store is a single-process StateStore backed by two files: an append-only
// intents log (AppendEvent/ReplaySince) and a snapshot file that is always
// replaced wholesale (SaveSnapshot/LoadLatest), matching the
// single-process durability boundary — no cross-process guarantee is made.
type Store struct {
	mu sync.Mutex

	logPath      string
	snapshotPath string

	logFile    *os.File
	logWriter  *bufio.Writer
	logEncoder *gob.Encoder
	version    uint64
}

// record is the on-disk envelope for one appended intent payload, following
// events/log.go's record shape but carrying an opaque []byte
// instead of a concrete Event variant.
type record struct {
	Version  uint64
	Payload  []byte
	Checksum uint32
}

// Open opens or creates the intents log and snapshot file under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("statestore: mkdir %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, "intents.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", logPath, err)
	}

	s := &Store{
		logPath:      logPath,
		snapshotPath: filepath.Join(dir, "snapshot.bin"),
		logFile:      f,
		logWriter:    bufio.NewWriter(f),
	}
	s.logEncoder = gob.NewEncoder(s.logWriter)

	if err := s.recoverVersion(); err != nil {
		f.Close()
		return nil, fmt.Errorf("statestore: recover version: %w", err)
	}
	return s, nil
}

func (s *Store) recoverVersion() error {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		s.version = rec.Version
	}
}

// AppendEvent appends payload as the next intent, fsyncing before returning
// so a crash immediately after AppendEvent never loses the intent.
func (s *Store) AppendEvent(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	rec := record{Version: s.version, Payload: payload, Checksum: crc32.ChecksumIEEE(payload)}

	if err := s.logEncoder.Encode(rec); err != nil {
		return fmt.Errorf("statestore: encode: %w", err)
	}
	if err := s.logWriter.Flush(); err != nil {
		return fmt.Errorf("statestore: flush: %w", err)
	}
	return s.logFile.Sync()
}

// ReplaySince streams every appended intent with version > since, in order,
// on a buffered channel closed once the log is exhausted.
func (s *Store) ReplaySince(_ context.Context, since uint64) (<-chan []byte, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			ch := make(chan []byte)
			close(ch)
			return ch, nil
		}
		return nil, fmt.Errorf("statestore: open for replay: %w", err)
	}

	ch := make(chan []byte, 64)
	go func() {
		defer f.Close()
		defer close(ch)

		dec := gob.NewDecoder(f)
		for {
			var rec record
			if err := dec.Decode(&rec); err != nil {
				return
			}
			if rec.Version <= since {
				continue
			}
			if crc32.ChecksumIEEE(rec.Payload) != rec.Checksum {
				continue // corrupted record: skip it and keep reading
			}
			ch <- rec.Payload
		}
	}()
	return ch, nil
}

// SaveSnapshot replaces the snapshot file atomically: write to a temp file
// in the same directory, fsync, then rename over the old one. Rename is
// atomic on the same filesystem, so a crash mid-write never corrupts the
// previously-saved snapshot.
func (s *Store) SaveSnapshot(_ context.Context, snap ports.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("statestore: create temp snapshot: %w", err)
	}
	if _, err := f.Write(snap.Bytes); err != nil {
		f.Close()
		return fmt.Errorf("statestore: write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("statestore: fsync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("statestore: close temp snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshotPath)
}

// LoadLatest reads the snapshot file, or (Snapshot{}, false, nil) if none
// has ever been saved.
func (s *Store) LoadLatest(_ context.Context) (ports.Snapshot, bool, error) {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ports.Snapshot{}, false, nil
		}
		return ports.Snapshot{}, false, fmt.Errorf("statestore: read snapshot: %w", err)
	}
	return ports.Snapshot{Bytes: data, Checksum: crc32.ChecksumIEEE(data)}, true, nil
}

// Close flushes and closes the intents log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.logWriter.Flush(); err != nil {
		return err
	}
	return s.logFile.Close()
}
