package walog

// RecordType enumerates the WAL record kinds from spec §3/§4.2/§6.
type RecordType uint8

const (
	RecordPageWrite RecordType = iota + 1
	RecordBeginBatch
	RecordAddEdge
	RecordDeleteEdge
	RecordSetNodeProperty
	RecordSetEdgeProperty
	RecordAssignLabel
	RecordCreateLabel
	RecordCheckpoint
	RecordManifestSwitch
	RecordCommitTx
	RecordAssignNodeID
)

func (t RecordType) String() string {
	switch t {
	case RecordPageWrite:
		return "PageWrite"
	case RecordBeginBatch:
		return "BeginBatch"
	case RecordAddEdge:
		return "AddEdge"
	case RecordDeleteEdge:
		return "DeleteEdge"
	case RecordSetNodeProperty:
		return "SetNodeProperty"
	case RecordSetEdgeProperty:
		return "SetEdgeProperty"
	case RecordAssignLabel:
		return "AssignLabel"
	case RecordCreateLabel:
		return "CreateLabel"
	case RecordCheckpoint:
		return "Checkpoint"
	case RecordManifestSwitch:
		return "ManifestSwitch"
	case RecordCommitTx:
		return "CommitTx"
	case RecordAssignNodeID:
		return "AssignNodeID"
	default:
		return "Unknown"
	}
}

// Record is a single decoded WAL entry: its type and raw payload.
type Record struct {
	Type    RecordType
	Payload []byte
}
