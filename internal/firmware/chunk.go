package firmware

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// DefaultChunkSize is the payload size used by the device firmware's OTA
	// receiver buffer.
	DefaultChunkSize = 200

	// MaxChunkSize is the largest payload the 2-byte length field can carry.
	MaxChunkSize = math.MaxUint16

	// MaxChunks is the most chunks the 2-byte remaining field can count down.
	MaxChunks = math.MaxUint16 + 1

	// ChecksumSize is the length of the per-chunk MD5 digest.
	ChecksumSize = md5.Size

	// SizeMessageLen is the length of the total-size handshake message.
	SizeMessageLen = 4

	// FrameOverhead is the number of framing bytes around each payload.
	FrameOverhead = 2 + ChecksumSize + 2
)

// Chunk is one slice of the firmware image plus its integrity metadata.
type Chunk struct {
	Index     int
	Payload   []byte
	Checksum  [ChecksumSize]byte
	Remaining int
}

// Encode returns the chunk's wire frame.
func (c *Chunk) Encode() []byte {
	frame := make([]byte, 0, len(c.Payload)+FrameOverhead)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(c.Payload)))
	frame = append(frame, c.Payload...)
	frame = append(frame, c.Checksum[:]...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(c.Remaining))
	return frame
}

// Verify reports whether the embedded checksum matches the payload.
func (c *Chunk) Verify() bool {
	return md5.Sum(c.Payload) == c.Checksum
}

// String returns a debug representation of the chunk
func (c *Chunk) String() string {
	return fmt.Sprintf("Chunk{Index=%d, Length=%d, Remaining=%d, MD5=%x}",
		c.Index, len(c.Payload), c.Remaining, c.Checksum)
}

// Table is the precomputed, ordered chunk sequence for one image.
type Table struct {
	ChunkSize int
	ImageSize int
	Chunks    []Chunk

	frames [][]byte
}

// Build splits image into chunks of chunkSize bytes. The last chunk may be
// shorter. An empty image yields a table with no chunks.
func Build(image []byte, chunkSize int) (*Table, error) {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size must be between 1 and %d, got %d", MaxChunkSize, chunkSize)
	}
	if uint64(len(image)) > math.MaxUint32 {
		return nil, fmt.Errorf("image too large: %d bytes exceeds 4-byte size field", len(image))
	}

	total := (len(image) + chunkSize - 1) / chunkSize
	if total > MaxChunks {
		return nil, fmt.Errorf("image splits into %d chunks, limit is %d (increase chunk size)", total, MaxChunks)
	}

	table := &Table{
		ChunkSize: chunkSize,
		ImageSize: len(image),
		Chunks:    make([]Chunk, total),
		frames:    make([][]byte, total),
	}

	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(image))
		payload := image[start:end:end]

		table.Chunks[i] = Chunk{
			Index:     i,
			Payload:   payload,
			Checksum:  md5.Sum(payload),
			Remaining: total - i - 1,
		}
		table.frames[i] = table.Chunks[i].Encode()
	}

	return table, nil
}

// Len returns the number of chunks.
func (t *Table) Len() int {
	return len(t.Chunks)
}

// Frame returns the encoded wire frame of chunk i.
// The returned slice must not be modified.
func (t *Table) Frame(i int) []byte {
	return t.frames[i]
}

// SizeMessage returns the 4-byte big-endian total-size handshake message.
func (t *Table) SizeMessage() []byte {
	return SizeMessage(t.ImageSize)
}

// SizeMessage encodes n as a 4-byte big-endian integer.
func SizeMessage(n int) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, SizeMessageLen), uint32(n))
}

// Reassemble concatenates chunk payloads in index order.
func (t *Table) Reassemble() []byte {
	var buf bytes.Buffer
	buf.Grow(t.ImageSize)
	for i := range t.Chunks {
		buf.Write(t.Chunks[i].Payload)
	}
	return buf.Bytes()
}

// DecodeChunk parses a wire frame back into a Chunk. The index is not part of
// the frame and is left at zero. The checksum is checked against the payload.
func DecodeChunk(frame []byte) (*Chunk, error) {
	if len(frame) < FrameOverhead {
		return nil, fmt.Errorf("frame too short: got %d bytes, need at least %d", len(frame), FrameOverhead)
	}

	length := int(binary.BigEndian.Uint16(frame[0:2]))
	if len(frame) != length+FrameOverhead {
		return nil, fmt.Errorf("frame length mismatch: header says %d payload bytes, frame has %d",
			length, len(frame)-FrameOverhead)
	}

	c := &Chunk{
		Payload:   frame[2 : 2+length],
		Remaining: int(binary.BigEndian.Uint16(frame[2+length+ChecksumSize:])),
	}
	copy(c.Checksum[:], frame[2+length:2+length+ChecksumSize])

	if !c.Verify() {
		return nil, fmt.Errorf("checksum mismatch: frame has %x, payload hashes to %x",
			c.Checksum, md5.Sum(c.Payload))
	}
	return c, nil
}
