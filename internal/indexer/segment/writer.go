// Package segment persists index generations as self-validating snapshot
// files. A snapshot is a fixed 64-byte header followed by a zstd-compressed
// JSON body holding the postings and the per-record doc table.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/klauspost/compress/zstd"
)

// MagicBytes identifies a valid .spdx snapshot file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
)

// Header layout (little endian):
//
//	0:4   magic
//	4:8   version
//	8:16  cursor
//	16:20 term count
//	20:24 doc count
//	24:32 created at (unix seconds)
//	32:40 compressed body size
//	40:48 raw body size
//	48:52 crc32 of the compressed body
//	52:56 crc32 of bytes 0:52
//	56:64 reserved
type Header struct {
	Magic     uint32
	Version   uint32
	Cursor    uint64
	TermCount uint32
	DocCount  uint32
	CreatedAt int64
	BodySize  uint64
	RawSize   uint64
	BodyCRC   uint32
}

type body struct {
	Terms []index.TermEntry `json:"terms"`
	Docs  []index.DocEntry  `json:"docs"`
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint64(b[8:16], h.Cursor)
	binary.LittleEndian.PutUint32(b[16:20], h.TermCount)
	binary.LittleEndian.PutUint32(b[20:24], h.DocCount)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], h.BodySize)
	binary.LittleEndian.PutUint64(b[40:48], h.RawSize)
	binary.LittleEndian.PutUint32(b[48:52], h.BodyCRC)
	binary.LittleEndian.PutUint32(b[52:56], crc32.ChecksumIEEE(b[0:52]))
	return b
}

// Encoder serialises generations. It is safe for concurrent use.
type Encoder struct {
	enc *zstd.Encoder
}

// NewEncoder uses the given zstd level (1 fastest to 22 smallest).
func NewEncoder(level int) (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode returns the complete snapshot bytes for g.
func (e *Encoder) Encode(g *index.Generation) ([]byte, error) {
	terms, docs := g.Export()
	raw, err := json.Marshal(body{Terms: terms, Docs: docs})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot body: %w", err)
	}
	compressed := e.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	h := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		Cursor:    g.Cursor(),
		TermCount: uint32(len(terms)),
		DocCount:  uint32(len(docs)),
		CreatedAt: time.Now().Unix(),
		BodySize:  uint64(len(compressed)),
		RawSize:   uint64(len(raw)),
		BodyCRC:   crc32.ChecksumIEEE(compressed),
	}
	out := make([]byte, 0, HeaderSize+len(compressed))
	out = append(out, h.marshal()...)
	out = append(out, compressed...)
	return out, nil
}

func (e *Encoder) Close() error {
	return e.enc.Close()
}
