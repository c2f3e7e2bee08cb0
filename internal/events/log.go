package events

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Log is an append-only, gob-encoded, CRC32-checksummed event log. It
// records the lifecycle events the LiveRunner's dispatcher queues through
// disruptor.EventBatcher; the file StateStore adapter keeps its own,
// separate log.
//
// Sync modes: synchronous (fsync per write) trades latency for durability;
// callers that batch writes (see runner's dispatcher) can disable it and
// fsync once per batch instead.
type Log struct {
	file        *os.File
	writer      *bufio.Writer
	encoder     *gob.Encoder
	mu          sync.Mutex
	sequenceNum uint64
	syncMode    bool
	path        string
}

// LogConfig configures a Log.
type LogConfig struct {
	Path     string
	SyncMode bool
}

// NewLog opens or creates an event log at the configured path, replaying it
// once to recover the last sequence number.
func NewLog(cfg LogConfig) (*Log, error) {
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("events: open log: %w", err)
	}

	writer := bufio.NewWriter(file)
	l := &Log{
		file:     file,
		writer:   writer,
		encoder:  gob.NewEncoder(writer),
		syncMode: cfg.SyncMode,
		path:     cfg.Path,
	}

	if err := l.recover(); err != nil {
		file.Close()
		return nil, fmt.Errorf("events: recover log: %w", err)
	}
	return l, nil
}

// record is the on-disk envelope for every event variant.
type record struct {
	SequenceNum uint64
	Kind        Type
	Data        interface{}
	Checksum    uint32
}

func checksum(data interface{}) uint32 {
	return crc32.ChecksumIEEE([]byte(fmt.Sprintf("%+v", data)))
}

// EventHeader implementations exploit Go's guaranteed embedding layout:
// every variant embeds Header as its first field, so the log and bus can
// assign/read sequence numbers through the Event interface without a type
// switch per variant kind.
func (e *MarketDataEvent) EventHeader() *Header       { return &e.Header }
func (e *TradeEvent) EventHeader() *Header            { return &e.Header }
func (e *OrderbookUpdateEvent) EventHeader() *Header  { return &e.Header }
func (e *CandleEvent) EventHeader() *Header           { return &e.Header }
func (e *OrderAcceptedEvent) EventHeader() *Header    { return &e.Header }
func (e *OrderFilledEvent) EventHeader() *Header      { return &e.Header }
func (e *OrderCanceledEvent) EventHeader() *Header    { return &e.Header }
func (e *OrderRejectedEvent) EventHeader() *Header    { return &e.Header }
func (e *TickEvent) EventHeader() *Header             { return &e.Header }
func (e *ConnectionStateEvent) EventHeader() *Header  { return &e.Header }
func (e *ShutdownEvent) EventHeader() *Header         { return &e.Header }

// Append writes an event to the log, assigning it the next sequence
// number. Returns the assigned sequence number.
func (l *Log) Append(event Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequenceNum++
	seq := l.sequenceNum
	event.EventHeader().SequenceNum = seq

	rec := record{
		SequenceNum: seq,
		Data:        event,
	}
	rec.Checksum = checksum(event)

	if err := l.encoder.Encode(rec); err != nil {
		return 0, fmt.Errorf("events: encode: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("events: flush: %w", err)
	}
	if l.syncMode {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("events: fsync: %w", err)
		}
	}
	return seq, nil
}

// Replay reads every event in the log in order and invokes handler for
// each, stopping at the first error. Used to rebuild Cache state after a
// restart and to drive deterministic backtest replays.
func (l *Log) Replay(handler func(seqNum uint64, event interface{}) error) error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("events: open for replay: %w", err)
	}
	defer file.Close()

	decoder := gob.NewDecoder(file)
	var lastSeq uint64

	for {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("events: decode: %w", err)
		}

		if lastSeq > 0 && rec.SequenceNum != lastSeq+1 {
			return fmt.Errorf("events: sequence gap: expected %d, got %d", lastSeq+1, rec.SequenceNum)
		}
		lastSeq = rec.SequenceNum

		if rec.Checksum != checksum(rec.Data) {
			return fmt.Errorf("events: checksum mismatch at sequence %d", rec.SequenceNum)
		}

		if err := handler(rec.SequenceNum, rec.Data); err != nil {
			return fmt.Errorf("events: handler error at sequence %d: %w", rec.SequenceNum, err)
		}
	}
	return nil
}

func (l *Log) recover() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	decoder := gob.NewDecoder(file)
	for {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		l.sequenceNum = rec.SequenceNum
	}
	return nil
}

// LastSequence returns the last sequence number assigned.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequenceNum
}

// Sync forces a flush plus fsync.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

func init() {
	gob.Register(&MarketDataEvent{})
	gob.Register(&TradeEvent{})
	gob.Register(&OrderbookUpdateEvent{})
	gob.Register(&CandleEvent{})
	gob.Register(&OrderAcceptedEvent{})
	gob.Register(&OrderFilledEvent{})
	gob.Register(&OrderCanceledEvent{})
	gob.Register(&OrderRejectedEvent{})
	gob.Register(&TickEvent{})
	gob.Register(&ConnectionStateEvent{})
	gob.Register(&ShutdownEvent{})
}
