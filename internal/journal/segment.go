package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Status is the segment lifecycle state (spec §4.1).
type Status string

const (
	StatusIdle      Status = "Idle"
	StatusWrite     Status = "Write"
	StatusSealUp    Status = "SealUp"
	StatusPreDelete Status = "PreDelete"
	StatusDeleting  Status = "Deleting"
)

// Meta describes a Segment's placement and lifecycle (spec §3 "Segment").
// Replicas is ordered; Replicas[0] is the leader.
type Meta struct {
	Namespace string
	Shard     string
	Sequence  uint64
	Status    Status
	Replicas  []uint64
	InSync    []uint64
	MaxSize   int64
}

// IndexMeta tracks the observed offset/timestamp extent of a Segment (spec §3
// "Segment Metadata"). -1 means unset.
type IndexMeta struct {
	Namespace  string
	Shard      string
	Sequence   uint64
	StartOffset int64
	EndOffset   int64
	StartTs     int64
	EndTs       int64
}

func newIndexMeta(namespace, shard string, seq uint64) IndexMeta {
	return IndexMeta{
		Namespace: namespace, Shard: shard, Sequence: seq,
		StartOffset: -1, EndOffset: -1, StartTs: -1, EndTs: -1,
	}
}

// segmentFile owns the single buffered writer for one segment's on-disk
// file. Exactly one writer task may hold it at a time (spec §5 "a dedicated
// writer task per segment file to avoid writer interleaving"); the mutex
// below plays that role since the core here is synchronous rather than
// task-per-segment, but the invariant -- one in-flight writer -- is identical.
type segmentFile struct {
	mu   sync.Mutex
	path string

	meta      Meta
	index     IndexMeta
	file      *os.File
	bw        *bufio.Writer
	size      int64 // bytes written so far
	endOffset int64 // -1 if no record yet written this segment
}

// Handle is the opaque write handle returned by OpenSegmentWrite, mirroring
// the journal's public contract (spec §4.1).
type Handle struct {
	seg     *segmentFile
	MaxSize int64
}

func openSegmentFile(dataDir, namespace, shard string, seq uint64, meta Meta) (*segmentFile, error) {
	var dir = filepath.Join(dataDir, namespace, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithMessage(err, "mkdir segment dir")
	}
	var path = filepath.Join(dir, fmt.Sprintf("%d.msg", seq))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WithMessage(err, "open segment file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WithMessage(err, "stat segment file")
	}

	var sf = &segmentFile{
		path:      path,
		meta:      meta,
		index:     newIndexMeta(namespace, shard, seq),
		file:      f,
		bw:        bufio.NewWriter(f),
		size:      info.Size(),
		endOffset: -1,
	}

	// Recover endOffset/index by scanning existing frames (process restart).
	if info.Size() > 0 {
		if err := sf.recover(); err != nil {
			f.Close()
			return nil, errors.WithMessage(err, "recover segment")
		}
	}
	return sf, nil
}

func (sf *segmentFile) recover() error {
	r, err := os.Open(sf.path)
	if err != nil {
		return err
	}
	defer r.Close()

	var br = bufio.NewReader(r)
	var pos int64
	for {
		offset, bodyLen, err := readFrameHeader(br)
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		var body = make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return errors.WithMessage(err, "short read recovering segment")
		}
		rec, err := decodeBody(body)
		if err != nil {
			return err
		}
		if sf.index.StartOffset == -1 {
			sf.index.StartOffset = int64(offset)
			sf.index.StartTs = rec.CreateTime
		}
		sf.index.EndOffset = int64(offset)
		sf.index.EndTs = rec.CreateTime
		sf.endOffset = int64(offset)
		pos += int64(frameOffsetSize+frameLenSize) + int64(bodyLen)
	}
	return nil
}

// append assigns monotonically increasing offsets starting at endOffset+1
// and flushes the buffered writer before returning (spec §4.1 Write
// semantics). fsync is left to the filesystem's discretion per §9 Open
// Questions.
func (sf *segmentFile) append(records []Record, clockNow func() int64) (firstOffset, lastOffset uint64, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.meta.Status == StatusSealUp || sf.meta.Status == StatusPreDelete || sf.meta.Status == StatusDeleting {
		return 0, 0, ErrSegmentAlreadySealed
	}

	var next = uint64(sf.endOffset + 1)
	var written int64

	for i := range records {
		records[i].Offset = next
		if records[i].CreateTime == 0 {
			records[i].CreateTime = clockNow()
		}
		var body = encodeBody(records[i])
		n, werr := writeFrame(sf.bw, next, body)
		if werr != nil {
			return 0, 0, errors.WithMessage(werr, "write frame")
		}
		written += int64(n)

		if sf.index.StartOffset == -1 {
			sf.index.StartOffset = int64(next)
			sf.index.StartTs = records[i].CreateTime
		}
		sf.index.EndOffset = int64(next)
		sf.index.EndTs = records[i].CreateTime

		if i == 0 {
			firstOffset = next
		}
		lastOffset = next
		next++
	}

	if err := sf.bw.Flush(); err != nil {
		return 0, 0, errors.WithMessage(err, "flush segment")
	}
	sf.size += written
	sf.endOffset = int64(lastOffset)

	if sf.meta.MaxSize > 0 && sf.size >= sf.meta.MaxSize {
		sf.meta.Status = StatusSealUp
	}
	return firstOffset, lastOffset, nil
}

func (sf *segmentFile) sizeBytes() int64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.size
}

// readByOffset implements the scan contract of spec §4.1: skip frames whose
// offset is less than startOffset without decoding their body, stop once
// cumulative *payload* bytes already read exceed maxSize (checked before the
// next frame is read, so a sum landing exactly on maxSize does not stop the
// scan) or record count reaches maxRecords (checked after a record is
// appended), or EOF.
func (sf *segmentFile) readByOffset(startPosition int64, startOffset uint64, maxSize int64, maxRecords int) ([]Record, error) {
	if maxRecords <= 0 {
		return nil, nil
	}
	f, err := os.Open(sf.path)
	if err != nil {
		return nil, errors.WithMessage(err, "open segment for read")
	}
	defer f.Close()

	if _, err := f.Seek(startPosition, io.SeekStart); err != nil {
		return nil, errors.WithMessage(err, "seek segment")
	}
	var br = bufio.NewReader(f)
	var pos = startPosition
	var out []Record
	var payloadBytes int64

	for {
		if payloadBytes > maxSize {
			break
		}

		offset, bodyLen, err := readFrameHeader(br)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.WithMessage(err, "read frame header")
		}
		var framePos = pos
		pos += int64(frameOffsetSize+frameLenSize) + int64(bodyLen)

		if offset < startOffset {
			if _, err := br.Discard(int(bodyLen)); err != nil {
				return nil, errors.WithMessage(err, "skip frame body")
			}
			continue
		}

		var body = make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errors.WithMessage(err, "read frame body")
		}
		rec, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		rec.Offset = offset
		rec.Position = framePos

		out = append(out, rec)
		payloadBytes += int64(len(rec.Payload))

		if len(out) >= maxRecords {
			break
		}
	}
	return out, nil
}

// readByPositions is the random-access read of spec §4.1: zero-length
// records are skipped, EOF ends the scan.
func (sf *segmentFile) readByPositions(positions []int64) ([]Record, error) {
	f, err := os.Open(sf.path)
	if err != nil {
		return nil, errors.WithMessage(err, "open segment for read")
	}
	defer f.Close()

	var out []Record
	for _, p := range positions {
		if _, err := f.Seek(p, io.SeekStart); err != nil {
			return nil, errors.WithMessage(err, "seek position")
		}
		var br = bufio.NewReader(f)
		offset, bodyLen, err := readFrameHeader(br)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.WithMessage(err, "read frame header")
		}
		if bodyLen == 0 {
			continue
		}
		var body = make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, errors.WithMessage(err, "read frame body")
		}
		rec, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		rec.Offset = offset
		rec.Position = p
		out = append(out, rec)
	}
	return out, nil
}

func (sf *segmentFile) close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if err := sf.bw.Flush(); err != nil {
		sf.file.Close()
		return err
	}
	return sf.file.Close()
}

func (sf *segmentFile) delete() error {
	sf.mu.Lock()
	var path = sf.path
	sf.mu.Unlock()

	if err := sf.close(); err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ErrSegmentAlreadyDeleted
	}
	return os.Remove(path)
}
