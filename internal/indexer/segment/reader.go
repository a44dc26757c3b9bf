package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

// maxRawSize bounds decompression so a damaged size field cannot exhaust
// memory.
const maxRawSize = 4 << 30

// Decoder validates and loads snapshots. It is safe for concurrent use.
type Decoder struct {
	dec *zstd.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxRawSize))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{apperrors.ErrIndexCorruption}, args...)...)
}

// ReadHeader validates and parses the fixed header.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, corrupt("snapshot is %d bytes, shorter than header", len(data))
	}
	b := data[:HeaderSize]
	h := Header{
		Magic:     binary.LittleEndian.Uint32(b[0:4]),
		Version:   binary.LittleEndian.Uint32(b[4:8]),
		Cursor:    binary.LittleEndian.Uint64(b[8:16]),
		TermCount: binary.LittleEndian.Uint32(b[16:20]),
		DocCount:  binary.LittleEndian.Uint32(b[20:24]),
		CreatedAt: int64(binary.LittleEndian.Uint64(b[24:32])),
		BodySize:  binary.LittleEndian.Uint64(b[32:40]),
		RawSize:   binary.LittleEndian.Uint64(b[40:48]),
		BodyCRC:   binary.LittleEndian.Uint32(b[48:52]),
	}
	if h.Magic != MagicBytes {
		return Header{}, corrupt("bad magic bytes %x", h.Magic)
	}
	if got := crc32.ChecksumIEEE(b[0:52]); got != binary.LittleEndian.Uint32(b[52:56]) {
		return Header{}, corrupt("header checksum mismatch")
	}
	if h.Version != FormatVersion {
		return Header{}, corrupt("unsupported format version %d", h.Version)
	}
	return h, nil
}

// Decode validates data end to end and rebuilds the generation it holds.
// Every failure wraps ErrIndexCorruption.
func (d *Decoder) Decode(data []byte) (*index.Generation, Header, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, Header{}, err
	}
	compressed := data[HeaderSize:]
	if uint64(len(compressed)) != h.BodySize {
		return nil, h, corrupt("body is %d bytes, header says %d", len(compressed), h.BodySize)
	}
	if crc32.ChecksumIEEE(compressed) != h.BodyCRC {
		return nil, h, corrupt("body checksum mismatch")
	}
	if h.RawSize > maxRawSize {
		return nil, h, corrupt("raw size %d too large", h.RawSize)
	}
	raw, err := d.dec.DecodeAll(compressed, make([]byte, 0, h.RawSize))
	if err != nil {
		return nil, h, corrupt("decompressing body: %v", err)
	}
	if uint64(len(raw)) != h.RawSize {
		return nil, h, corrupt("raw body is %d bytes, header says %d", len(raw), h.RawSize)
	}
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, h, corrupt("parsing body: %v", err)
	}
	if uint32(len(b.Terms)) != h.TermCount || uint32(len(b.Docs)) != h.DocCount {
		return nil, h, corrupt("counts %d/%d do not match header %d/%d",
			len(b.Terms), len(b.Docs), h.TermCount, h.DocCount)
	}
	g, err := index.Restore(h.Cursor, b.Terms, b.Docs)
	if err != nil {
		return nil, h, err
	}
	return g, h, nil
}

func (d *Decoder) Close() {
	d.dec.Close()
}
