package explorer

import (
	"errors"

	"github.com/kadirbelkuyu/tablescope/internal/catalog"
	"github.com/kadirbelkuyu/tablescope/internal/envelope"
)

type State int

const (
	Idle State = iota
	SchemaReady
	Loading
	Loaded
	Error
	Fatal
)

var stateNames = map[State]string{
	Idle:        "idle",
	SchemaReady: "schema-ready",
	Loading:     "loading",
	Loaded:      "loaded",
	Error:       "error",
	Fatal:       "fatal",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Messages shown to the operator.
const (
	MsgNoIdentifier  = "Unable to determine record identifier for deletion."
	MsgDeleteFailed  = "Unable to delete record."
	MsgReadOnly      = "This table does not accept changes."
	MsgSchemaFailed  = "Unable to load the schema. Check the backend and try again."
	MsgRecordCreated = "Record created."
	MsgRecordDeleted = "Record deleted."
)

var (
	ErrNoTable      = errors.New("no table selected")
	ErrUnknownTable = errors.New("unknown table")
	ErrNoIdentifier = errors.New("record has no primary key value")
	ErrReadOnly     = errors.New("table is read-only")
	ErrFatal        = errors.New("explorer stopped after a schema error")
)

// ActionError is a refused or failed operator action. Message is safe to show
// as is.
type ActionError struct {
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	return e.Message
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Snapshot is a read-only copy of the explorer state handed to listeners.
type Snapshot struct {
	State    State
	Tables   []*catalog.Table
	Table    *catalog.Table
	ReadOnly bool

	Page    int
	PerPage int
	Items   []envelope.Record
	Total   *int64
	HasPrev bool
	HasNext bool

	// Message describes the current error or fatal state.
	Message string
	// Notice is the outcome of the last create or delete.
	Notice  string
}
