package walog

import (
	"encoding/binary"
	"fmt"

	"github.com/nervusdb/kernel/common"
	"github.com/nervusdb/kernel/internal/binfmt"
	"github.com/nervusdb/kernel/internal/pager"
)

// Payload encoders/decoders for each record type. Framing mirrors the
// teacher's fixed-width-then-bytes style (btree/wal.go encodeRecord)
// rather than a general-purpose serializer, since the record set is
// small and fixed.

// PageWritePayload is the full-image page record used for torn-page
// repair (spec §4.1): [pageID u32][bytes[pageSize]].
func EncodePageWrite(id pager.PageID, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(id))
	copy(buf[4:], data)
	return buf
}

func DecodePageWrite(payload []byte) (pager.PageID, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("walog: truncated PageWrite")
	}
	id := pager.PageID(binary.BigEndian.Uint32(payload[0:4]))
	return id, payload[4:], nil
}

// BeginBatch / CommitTx carry only the txId string.
func EncodeTxID(txID string) []byte {
	return []byte(txID)
}

func DecodeTxID(payload []byte) string {
	return string(payload)
}

// EdgePayload is the (src,type,dst) triple used by AddEdge/DeleteEdge:
// [src u32][type u32][dst u32].
func EncodeEdge(src, typ, dst uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], src)
	binary.BigEndian.PutUint32(buf[4:8], typ)
	binary.BigEndian.PutUint32(buf[8:12], dst)
	return buf
}

func DecodeEdge(payload []byte) (src, typ, dst uint32, err error) {
	if len(payload) < 12 {
		return 0, 0, 0, fmt.Errorf("walog: truncated edge payload")
	}
	return binary.BigEndian.Uint32(payload[0:4]),
		binary.BigEndian.Uint32(payload[4:8]),
		binary.BigEndian.Uint32(payload[8:12]), nil
}

// PropertyPayload covers both SetNodeProperty ([nodeID u32][key][value])
// and SetEdgeProperty ([src u32][type u32][dst u32][key][value]).
func EncodeNodeProperty(nodeID uint32, key string, encodedValue []byte) []byte {
	buf := make([]byte, 4, 4+4+len(key)+len(encodedValue))
	binary.BigEndian.PutUint32(buf[0:4], nodeID)
	buf = appendLenPrefixed(buf, []byte(key))
	buf = append(buf, encodedValue...)
	return buf
}

func DecodeNodeProperty(payload []byte) (nodeID uint32, key string, value []byte, err error) {
	if len(payload) < 4 {
		return 0, "", nil, fmt.Errorf("walog: truncated node property")
	}
	nodeID = binary.BigEndian.Uint32(payload[0:4])
	rest := payload[4:]
	keyBytes, n, err := decodeLenPrefixed(rest)
	if err != nil {
		return 0, "", nil, err
	}
	return nodeID, string(keyBytes), rest[n:], nil
}

func EncodeEdgeProperty(src, typ, dst uint32, key string, encodedValue []byte) []byte {
	buf := make([]byte, 12, 12+4+len(key)+len(encodedValue))
	binary.BigEndian.PutUint32(buf[0:4], src)
	binary.BigEndian.PutUint32(buf[4:8], typ)
	binary.BigEndian.PutUint32(buf[8:12], dst)
	buf = appendLenPrefixed(buf, []byte(key))
	buf = append(buf, encodedValue...)
	return buf
}

func DecodeEdgeProperty(payload []byte) (src, typ, dst uint32, key string, value []byte, err error) {
	if len(payload) < 12 {
		return 0, 0, 0, "", nil, fmt.Errorf("walog: truncated edge property")
	}
	src = binary.BigEndian.Uint32(payload[0:4])
	typ = binary.BigEndian.Uint32(payload[4:8])
	dst = binary.BigEndian.Uint32(payload[8:12])
	rest := payload[12:]
	keyBytes, n, err := decodeLenPrefixed(rest)
	if err != nil {
		return 0, 0, 0, "", nil, err
	}
	return src, typ, dst, string(keyBytes), rest[n:], nil
}

// AssignLabel: [nodeID u32][labelID u32]. CreateLabel: [id u32][name].
func EncodeAssignLabel(nodeID, labelID uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], nodeID)
	binary.BigEndian.PutUint32(buf[4:8], labelID)
	return buf
}

func DecodeAssignLabel(payload []byte) (nodeID, labelID uint32, err error) {
	if len(payload) < 8 {
		return 0, 0, fmt.Errorf("walog: truncated AssignLabel")
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), nil
}

func EncodeCreateLabel(id uint32, name string) []byte {
	buf := make([]byte, 4, 4+len(name))
	binary.BigEndian.PutUint32(buf[0:4], id)
	return append(buf, name...)
}

func DecodeCreateLabel(payload []byte) (id uint32, name string, err error) {
	if len(payload) < 4 {
		return 0, "", fmt.Errorf("walog: truncated CreateLabel")
	}
	return binary.BigEndian.Uint32(payload[0:4]), string(payload[4:]), nil
}

// Checkpoint: [epoch u64][internerHighWater u32][manifestRevision u64].
func EncodeCheckpoint(epoch uint64, internerHighWater uint32, manifestRevision uint64) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], epoch)
	binary.BigEndian.PutUint32(buf[8:12], internerHighWater)
	binary.BigEndian.PutUint64(buf[12:20], manifestRevision)
	return buf
}

func DecodeCheckpoint(payload []byte) (epoch uint64, internerHighWater uint32, manifestRevision uint64, err error) {
	if len(payload) < 20 {
		return 0, 0, 0, fmt.Errorf("walog: truncated Checkpoint")
	}
	return binary.BigEndian.Uint64(payload[0:8]),
		binary.BigEndian.Uint32(payload[8:12]),
		binary.BigEndian.Uint64(payload[12:20]), nil
}

// AssignNodeID: [external u64][internal u32]. Logged the first time a
// batch mentions a previously-unseen external node id, so replay can
// reconstruct the exact same external<->internal mapping in the same
// order the original commit assigned it (spec §4.3's interner has no
// separate on-disk mutation log otherwise; the WAL is the only record
// of assignments made since the last checkpoint snapshot).
func EncodeAssignNodeID(external uint64, internal uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], external)
	binary.BigEndian.PutUint32(buf[8:12], internal)
	return buf
}

func DecodeAssignNodeID(payload []byte) (external uint64, internal uint32, err error) {
	if len(payload) < 12 {
		return 0, 0, fmt.Errorf("walog: truncated AssignNodeID")
	}
	return binary.BigEndian.Uint64(payload[0:8]), binary.BigEndian.Uint32(payload[8:12]), nil
}

// ManifestSwitch: [newEpoch u64].
func EncodeManifestSwitch(newEpoch uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, newEpoch)
	return buf
}

func DecodeManifestSwitch(payload []byte) (uint64, error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("walog: truncated ManifestSwitch")
	}
	return binary.BigEndian.Uint64(payload), nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	var tmp [binfmt.MaxVarintLen]byte
	n := binfmt.PutUvarint(tmp[:], uint64(len(data)))
	buf = append(buf, tmp[:n]...)
	return append(buf, data...)
}

func decodeLenPrefixed(buf []byte) ([]byte, int, error) {
	l, n := binfmt.Uvarint(buf)
	if n <= 0 {
		return nil, 0, fmt.Errorf("walog: %w: truncated length prefix", common.ErrWalTruncated)
	}
	if uint64(len(buf)-n) < l {
		return nil, 0, fmt.Errorf("walog: %w: truncated payload", common.ErrWalTruncated)
	}
	return buf[n : uint64(n)+l], n + int(l), nil
}
