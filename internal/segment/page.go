package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/nervusdb/kernel/common"
)

// encodePage renders a sorted edge slab into the uncompressed payload
// format from spec §6: [count u32][edges: (u32,u32,u32)*count]. CRC32
// covers exactly this uncompressed form, independent of whether the
// stored bytes end up Brotli-compressed.
func encodePage(edges []common.Edge) []byte {
	buf := make([]byte, 4+len(edges)*12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(edges)))
	off := 4
	for _, e := range edges {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(e.Src))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(e.Type))
		binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(e.Dst))
		off += 12
	}
	return buf
}

func decodePage(buf []byte) ([]common.Edge, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("segment: page too small")
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	if uint64(len(buf)) < 4+uint64(count)*12 {
		return nil, fmt.Errorf("segment: page truncated")
	}
	edges := make([]common.Edge, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		src := binary.BigEndian.Uint32(buf[off : off+4])
		typ := binary.BigEndian.Uint32(buf[off+4 : off+8])
		dst := binary.BigEndian.Uint32(buf[off+8 : off+12])
		edges = append(edges, common.Edge{
			Src:  common.InternalNodeID(src),
			Type: common.InternedID(typ),
			Dst:  common.InternalNodeID(dst),
		})
		off += 12
	}
	return edges, nil
}

// writePage appends one page for the given primary value's edges to w,
// compressing with c if requested, and returns the PageRecord to store
// in the manifest's page list.
func writePage(w io.Writer, offset int64, primary uint32, edges []common.Edge, c Compression) (PageRecord, error) {
	raw := encodePage(edges)
	crc := crc32.ChecksumIEEE(raw)

	stored := raw
	if c.Codec == "brotli" {
		var buf bytes.Buffer
		bw := brotli.NewWriterLevel(&buf, c.Level)
		if _, err := bw.Write(raw); err != nil {
			return PageRecord{}, err
		}
		if err := bw.Close(); err != nil {
			return PageRecord{}, err
		}
		stored = buf.Bytes()
	}

	n, err := w.Write(stored)
	if err != nil {
		return PageRecord{}, err
	}
	return PageRecord{
		PrimaryValue: primary,
		Offset:       offset,
		Length:       int64(n),
		RawLength:    int64(len(raw)),
		CRC32:        crc,
	}, nil
}

// readPage reads and decodes the page described by rec from r (a
// ReaderAt over the whole segment file), decompressing if needed and
// verifying the uncompressed CRC32. A mismatch returns *common.PageCorrupt.
func readPage(r io.ReaderAt, order Order, rec PageRecord) ([]common.Edge, error) {
	stored := make([]byte, rec.Length)
	if _, err := r.ReadAt(stored, rec.Offset); err != nil {
		return nil, fmt.Errorf("segment: read page at %d: %w", rec.Offset, err)
	}

	raw := stored
	if rec.Length != rec.RawLength {
		br := brotli.NewReader(bytes.NewReader(stored))
		buf, err := io.ReadAll(br)
		if err != nil {
			return nil, fmt.Errorf("segment: decompress page at %d: %w", rec.Offset, err)
		}
		raw = buf
	}

	if crc32.ChecksumIEEE(raw) != rec.CRC32 {
		return nil, fmt.Errorf("segment: %w", &common.PageCorrupt{
			Order:        string(order),
			PrimaryValue: uint64(rec.PrimaryValue),
			Offset:       rec.Offset,
			ExpectedCRC:  rec.CRC32,
			ActualCRC:    crc32.ChecksumIEEE(raw),
		})
	}
	return decodePage(raw)
}
