package firmware

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"testing"
)

func makeImage(n int, seed int64) []byte {
	data := make([]byte, n)
	r := rand.New(rand.NewSource(seed))
	r.Read(data)
	return data
}

func TestBuild_ChunkCounts(t *testing.T) {
	tests := []struct {
		name       string
		imageLen   int
		chunkSize  int
		wantChunks int
	}{
		{name: "empty image", imageLen: 0, chunkSize: 200, wantChunks: 0},
		{name: "single short chunk", imageLen: 1, chunkSize: 200, wantChunks: 1},
		{name: "exact multiple", imageLen: 600, chunkSize: 200, wantChunks: 3},
		{name: "one byte over", imageLen: 601, chunkSize: 200, wantChunks: 4},
		{name: "chunk size one", imageLen: 17, chunkSize: 1, wantChunks: 17},
		{name: "chunk larger than image", imageLen: 100, chunkSize: 1024, wantChunks: 1},
		{name: "max chunk size", imageLen: 70000, chunkSize: MaxChunkSize, wantChunks: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Build(makeImage(tt.imageLen, 1), tt.chunkSize)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			if table.Len() != tt.wantChunks {
				t.Fatalf("Len() = %d, want %d", table.Len(), tt.wantChunks)
			}

			for i, c := range table.Chunks {
				if i < table.Len()-1 && len(c.Payload) != tt.chunkSize {
					t.Errorf("chunk %d payload length = %d, want %d", i, len(c.Payload), tt.chunkSize)
				}
				if c.Index != i {
					t.Errorf("chunk %d Index = %d", i, c.Index)
				}
			}
		})
	}
}

func TestBuild_InvalidChunkSize(t *testing.T) {
	for _, size := range []int{0, -1, MaxChunkSize + 1} {
		if _, err := Build([]byte{1, 2, 3}, size); err == nil {
			t.Errorf("Build() with chunk size %d should fail", size)
		}
	}
}

func TestBuild_TooManyChunks(t *testing.T) {
	if _, err := Build(make([]byte, MaxChunks+1), 1); err == nil {
		t.Error("Build() should reject images that exceed the remaining-count field")
	}
	if _, err := Build(make([]byte, MaxChunks), 1); err != nil {
		t.Errorf("Build() at exactly MaxChunks error = %v", err)
	}
}

func TestBuild_Reassemble(t *testing.T) {
	for _, size := range []int{1, 7, 200, 256, 1024, 4096} {
		image := makeImage(5000, int64(size))
		table, err := Build(image, size)
		if err != nil {
			t.Fatalf("Build(chunk size %d) error = %v", size, err)
		}
		if !bytes.Equal(table.Reassemble(), image) {
			t.Errorf("chunk size %d: reassembled image differs from original", size)
		}
	}
}

func TestBuild_ChecksumsAndRemaining(t *testing.T) {
	table, err := Build(makeImage(1234, 42), 100)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	n := table.Len()
	for i, c := range table.Chunks {
		if c.Checksum != md5.Sum(c.Payload) {
			t.Errorf("chunk %d checksum does not match independent MD5", i)
		}
		if c.Remaining != n-i-1 {
			t.Errorf("chunk %d Remaining = %d, want %d", i, c.Remaining, n-i-1)
		}
	}
	if last := table.Chunks[n-1]; last.Remaining != 0 {
		t.Errorf("last chunk Remaining = %d, want 0", last.Remaining)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	image := makeImage(999, 7)
	a, _ := Build(image, 128)
	b, _ := Build(image, 128)

	for i := 0; i < a.Len(); i++ {
		if !bytes.Equal(a.Frame(i), b.Frame(i)) {
			t.Fatalf("frame %d differs between identical builds", i)
		}
	}
}

func TestBuild_SixHundredBytes(t *testing.T) {
	table, err := Build(makeImage(600, 3), 200)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []int{2, 1, 0}
	if table.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", table.Len(), len(want))
	}
	for i, r := range want {
		if table.Chunks[i].Remaining != r {
			t.Errorf("chunk %d Remaining = %d, want %d", i, table.Chunks[i].Remaining, r)
		}
	}
}

func TestChunk_Encode(t *testing.T) {
	payload := []byte("hello")
	c := &Chunk{Index: 4, Payload: payload, Checksum: md5.Sum(payload), Remaining: 0x0102}

	frame := c.Encode()
	if len(frame) != len(payload)+FrameOverhead {
		t.Fatalf("frame length = %d, want %d", len(frame), len(payload)+FrameOverhead)
	}
	if got := binary.BigEndian.Uint16(frame[0:2]); got != 5 {
		t.Errorf("length field = %d, want 5", got)
	}
	if !bytes.Equal(frame[2:7], payload) {
		t.Errorf("payload = %q, want %q", frame[2:7], payload)
	}
	sum := md5.Sum(payload)
	if !bytes.Equal(frame[7:23], sum[:]) {
		t.Errorf("checksum bytes = %x, want %x", frame[7:23], sum)
	}
	if frame[23] != 0x01 || frame[24] != 0x02 {
		t.Errorf("remaining bytes = %x %x, want 01 02", frame[23], frame[24])
	}
}

func TestDecodeChunk(t *testing.T) {
	table, err := Build([]byte("the quick brown fox jumps over the lazy dog"), 10)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for i := 0; i < table.Len(); i++ {
		c, err := DecodeChunk(table.Frame(i))
		if err != nil {
			t.Fatalf("DecodeChunk(%d) error = %v", i, err)
		}
		if !bytes.Equal(c.Payload, table.Chunks[i].Payload) {
			t.Errorf("chunk %d payload = %q, want %q", i, c.Payload, table.Chunks[i].Payload)
		}
		if c.Remaining != table.Chunks[i].Remaining {
			t.Errorf("chunk %d Remaining = %d, want %d", i, c.Remaining, table.Chunks[i].Remaining)
		}
	}
}

func TestDecodeChunk_Errors(t *testing.T) {
	good := (&Chunk{Payload: []byte("abc"), Checksum: md5.Sum([]byte("abc"))}).Encode()

	corrupt := append([]byte(nil), good...)
	corrupt[3] ^= 0xFF

	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "too short", frame: []byte{0x00, 0x01}},
		{name: "truncated payload", frame: good[:len(good)-1]},
		{name: "corrupt payload", frame: corrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeChunk(tt.frame); err == nil {
				t.Error("DecodeChunk() should fail")
			}
		})
	}
}

func TestSizeMessage(t *testing.T) {
	msg := SizeMessage(0x01020304)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(msg, want) {
		t.Errorf("SizeMessage() = %x, want %x", msg, want)
	}

	table, _ := Build(make([]byte, 600), 200)
	if got := binary.BigEndian.Uint32(table.SizeMessage()); got != 600 {
		t.Errorf("Table.SizeMessage() = %d, want 600", got)
	}
}
