package journal

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Record is a single journal entry (spec §3 "Record (journal entry)").
// CreateTime is expressed in seconds, matching the clock.Clock contract.
// The MQTT v5 publish properties (spec §4.8) ride along in the body so a
// push task can rebuild an OutboundMessage straight from what was appended,
// without a second lookup against the original PUBLISH packet.
type Record struct {
	Offset     uint64
	CreateTime int64
	Key        []byte
	Payload    []byte
	Tags       []string

	// Position is the byte offset of this record's frame within the
	// segment file. Populated by read paths; ignored by Append.
	Position int64

	// PayloadFormatIndicator, MessageExpiry, ResponseTopic, CorrelationData
	// and ContentType mirror the identically-named PUBLISH properties
	// (spec §4.8); nil/empty when the publisher didn't set them.
	PayloadFormatIndicator *byte
	MessageExpiry          *uint32
	ResponseTopic          string
	CorrelationData        []byte
	ContentType            string
	// UserProperties preserves the publish's user properties, keyed by
	// name with one or more values each (MQTT allows repeated keys).
	UserProperties map[string][]string
}

// On-disk framing (spec §6): [offset: u64 BE][payload_len: u32 BE][payload: bytes].
// The frame's "payload" is itself the encoded record body below, so that
// read-size accounting can charge only the user Payload bytes (per §4.1)
// while CreateTime/Key/Tags/properties still round-trip.
//
// body := [createTime: i64 BE][keyLen: u16 BE][key][tagCount: u16 BE]
//          (tagLen: u16 BE][tag])*
//          [propFlags: u8][payloadFormat: u8 if set][messageExpiry: u32 BE if set]
//          [responseTopicLen: u16 BE][responseTopic]
//          [correlationDataLen: u16 BE][correlationData]
//          [contentTypeLen: u16 BE][contentType]
//          [userPropCount: u16 BE]([keyLen: u16 BE][key][valLen: u16 BE][val])*
//          [payloadLen: u32 BE][payload]
const (
	frameOffsetSize = 8
	frameLenSize    = 4
	bodyHeaderMin   = 8 + 2 + 2 + 1 + 2 + 2 + 2 + 2 + 4 // createTime + keyLen + tagCount + propFlags + 3 length-prefixed strings + userPropCount + payloadLen

	propFlagHasPayloadFormat = 1 << 0
	propFlagHasMessageExpiry = 1 << 1
)

func encodeBody(r Record) []byte {
	var size = bodyHeaderMin + len(r.Key) + len(r.Payload) +
		len(r.ResponseTopic) + len(r.CorrelationData) + len(r.ContentType)
	for _, t := range r.Tags {
		size += 2 + len(t)
	}
	if r.PayloadFormatIndicator != nil {
		size++
	}
	if r.MessageExpiry != nil {
		size += 4
	}
	var userPropCount int
	for _, k := range sortedKeys(r.UserProperties) {
		for _, v := range r.UserProperties[k] {
			userPropCount++
			size += 2 + len(k) + 2 + len(v)
		}
	}

	var buf = make([]byte, size)
	var off int

	binary.BigEndian.PutUint64(buf[off:], uint64(r.CreateTime))
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.Key)))
	off += 2
	off += copy(buf[off:], r.Key)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.Tags)))
	off += 2
	for _, t := range r.Tags {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(t)))
		off += 2
		off += copy(buf[off:], t)
	}

	var flags byte
	if r.PayloadFormatIndicator != nil {
		flags |= propFlagHasPayloadFormat
	}
	if r.MessageExpiry != nil {
		flags |= propFlagHasMessageExpiry
	}
	buf[off] = flags
	off++
	if r.PayloadFormatIndicator != nil {
		buf[off] = *r.PayloadFormatIndicator
		off++
	}
	if r.MessageExpiry != nil {
		binary.BigEndian.PutUint32(buf[off:], *r.MessageExpiry)
		off += 4
	}

	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.ResponseTopic)))
	off += 2
	off += copy(buf[off:], r.ResponseTopic)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.CorrelationData)))
	off += 2
	off += copy(buf[off:], r.CorrelationData)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.ContentType)))
	off += 2
	off += copy(buf[off:], r.ContentType)

	binary.BigEndian.PutUint16(buf[off:], uint16(userPropCount))
	off += 2
	for _, k := range sortedKeys(r.UserProperties) {
		for _, v := range r.UserProperties[k] {
			binary.BigEndian.PutUint16(buf[off:], uint16(len(k)))
			off += 2
			off += copy(buf[off:], k)
			binary.BigEndian.PutUint16(buf[off:], uint16(len(v)))
			off += 2
			off += copy(buf[off:], v)
		}
	}

	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Payload)))
	off += 4
	off += copy(buf[off:], r.Payload)

	return buf[:off]
}

// sortedKeys returns m's keys in a deterministic order so encodeBody's
// output (and therefore a record's on-disk bytes) doesn't depend on map
// iteration order.
func sortedKeys(m map[string][]string) []string {
	if len(m) == 0 {
		return nil
	}
	var keys = make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeBody fills in the CreateTime/Key/Tags/property/Payload fields of a
// Record from an on-disk body. Offset/Position are the caller's to set.
func decodeBody(body []byte) (Record, error) {
	var rec Record
	if len(body) < bodyHeaderMin {
		return rec, errors.New("journal: truncated record body")
	}
	var off int
	rec.CreateTime = int64(binary.BigEndian.Uint64(body[off:]))
	off += 8
	var keyLen = int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if off+keyLen > len(body) {
		return rec, errors.New("journal: truncated record key")
	}
	if keyLen > 0 {
		rec.Key = body[off : off+keyLen]
	}
	off += keyLen

	if off+2 > len(body) {
		return rec, errors.New("journal: truncated record tags")
	}
	var tagCount = int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	for i := 0; i < tagCount; i++ {
		if off+2 > len(body) {
			return rec, errors.New("journal: truncated record tag")
		}
		var tl = int(binary.BigEndian.Uint16(body[off:]))
		off += 2
		if off+tl > len(body) {
			return rec, errors.New("journal: truncated record tag")
		}
		rec.Tags = append(rec.Tags, string(body[off:off+tl]))
		off += tl
	}

	if off+1 > len(body) {
		return rec, errors.New("journal: truncated record property flags")
	}
	var flags = body[off]
	off++
	if flags&propFlagHasPayloadFormat != 0 {
		if off+1 > len(body) {
			return rec, errors.New("journal: truncated payload format indicator")
		}
		var v = body[off]
		rec.PayloadFormatIndicator = &v
		off++
	}
	if flags&propFlagHasMessageExpiry != 0 {
		if off+4 > len(body) {
			return rec, errors.New("journal: truncated message expiry")
		}
		var v = binary.BigEndian.Uint32(body[off:])
		rec.MessageExpiry = &v
		off += 4
	}

	var responseTopicLen int
	if responseTopicLen, off = readU16Len(body, off); responseTopicLen < 0 {
		return rec, errors.New("journal: truncated response topic")
	}
	rec.ResponseTopic = string(body[off-responseTopicLen : off])

	var correlationLen int
	if correlationLen, off = readU16Len(body, off); correlationLen < 0 {
		return rec, errors.New("journal: truncated correlation data")
	}
	if correlationLen > 0 {
		rec.CorrelationData = body[off-correlationLen : off]
	}

	var contentTypeLen int
	if contentTypeLen, off = readU16Len(body, off); contentTypeLen < 0 {
		return rec, errors.New("journal: truncated content type")
	}
	rec.ContentType = string(body[off-contentTypeLen : off])

	if off+2 > len(body) {
		return rec, errors.New("journal: truncated user property count")
	}
	var userPropCount = int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	for i := 0; i < userPropCount; i++ {
		var kLen int
		if kLen, off = readU16Len(body, off); kLen < 0 {
			return rec, errors.New("journal: truncated user property key")
		}
		var key = string(body[off-kLen : off])

		var vLen int
		if vLen, off = readU16Len(body, off); vLen < 0 {
			return rec, errors.New("journal: truncated user property value")
		}
		var val = string(body[off-vLen : off])

		if rec.UserProperties == nil {
			rec.UserProperties = make(map[string][]string)
		}
		rec.UserProperties[key] = append(rec.UserProperties[key], val)
	}

	if off+4 > len(body) {
		return rec, errors.New("journal: truncated payload length")
	}
	var payloadLen = int(binary.BigEndian.Uint32(body[off:]))
	off += 4
	if off+payloadLen > len(body) {
		return rec, errors.New("journal: truncated payload")
	}
	rec.Payload = body[off : off+payloadLen]

	return rec, nil
}

// readU16Len reads a u16-BE length prefix at body[off:] and returns the
// length plus the offset advanced past both the prefix and the value it
// describes (i.e. the value itself is body[returnedOff-length:returnedOff]).
// Returns a negative length on truncation.
func readU16Len(body []byte, off int) (int, int) {
	if off+2 > len(body) {
		return -1, off
	}
	var l = int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if off+l > len(body) {
		return -1, off
	}
	return l, off + l
}

// writeFrame appends offset+len+body to w, returning the number of bytes written.
func writeFrame(w io.Writer, offset uint64, body []byte) (int, error) {
	var header [frameOffsetSize + frameLenSize]byte
	binary.BigEndian.PutUint64(header[0:], offset)
	binary.BigEndian.PutUint32(header[frameOffsetSize:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return 0, err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return 0, err
		}
	}
	return len(header) + len(body), nil
}

// readFrameHeader reads the offset+len header only, without the body.
func readFrameHeader(r *bufio.Reader) (offset uint64, bodyLen uint32, err error) {
	var header [frameOffsetSize + frameLenSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, 0, err
	}
	offset = binary.BigEndian.Uint64(header[0:])
	bodyLen = binary.BigEndian.Uint32(header[frameOffsetSize:])
	return offset, bodyLen, nil
}
