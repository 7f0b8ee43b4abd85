package model

// ChangeOp identifies the kind of file-level edit an agent proposes.
type ChangeOp string

const (
	OpAdd    ChangeOp = "add"
	OpModify ChangeOp = "modify"
	OpDelete ChangeOp = "delete"
)

// Valid reports whether the operation is one of the known kinds.
func (op ChangeOp) Valid() bool {
	switch op {
	case OpAdd, OpModify, OpDelete:
		return true
	default:
		return false
	}
}

// Change is a single proposed file-level edit submitted for validation.
// Changes are owned by the caller and read-only to the pipeline.
type Change struct {
	Path string   `json:"path"`
	Op   ChangeOp `json:"operation"`
	// DiffSize is the number of changed lines; 0 means unknown.
	DiffSize int `json:"diff_size,omitempty"`
	// Patch optionally carries the raw patch text. It is never parsed by the
	// pipeline, only echoed into audit payloads when small enough.
	Patch string `json:"patch,omitempty"`
}
