package uplcgate

// Budget is an execution ceiling, or the units an evaluation consumed.
type Budget struct {
	Mem uint64 `cbor:"mem" json:"mem"`
	CPU uint64 `cbor:"cpu" json:"cpu"`
}

// SlotConfig maps POSIX time in milliseconds to on-chain slots.
type SlotConfig struct {
	ZeroTime   uint64 `yaml:"zero_time" json:"zero_time"`
	ZeroSlot   uint64 `yaml:"zero_slot" json:"zero_slot"`
	SlotLength uint32 `yaml:"slot_length" json:"slot_length" validate:"gt=0"`
}

// UtxoPair is one resolved input: the CBOR of the output reference and the
// CBOR of the output it points at. The gateway never decodes either side.
type UtxoPair struct {
	Input  []byte
	Output []byte
}

// EvalError is the structured error the engine reports, either for the whole
// transaction or for a single redeemer.
type EvalError struct {
	ErrorType  string   `cbor:"error_type" json:"error_type"`
	Budget     Budget   `cbor:"budget" json:"budget"`
	DebugTrace []string `cbor:"debug_trace" json:"debug_trace"`
}

// ErrorTypeOutOfBudget is the error type the engine reports when an
// evaluation runs past its budget.
const ErrorTypeOutOfBudget = "out_of_budget"

// RedeemerTag identifies the script purpose a redeemer points at.
type RedeemerTag uint64

const (
	RedeemerSpend RedeemerTag = iota
	RedeemerMint
	RedeemerCert
	RedeemerReward
	RedeemerVoting
	RedeemerProposing
)

func (t RedeemerTag) String() string {
	switch t {
	case RedeemerSpend:
		return "spend"
	case RedeemerMint:
		return "mint"
	case RedeemerCert:
		return "cert"
	case RedeemerReward:
		return "reward"
	case RedeemerVoting:
		return "voting"
	case RedeemerProposing:
		return "proposing"
	default:
		return "unknown"
	}
}

// RedeemerPointer locates a redeemer within a transaction.
type RedeemerPointer struct {
	_     struct{} `cbor:",toarray"`
	Tag   RedeemerTag
	Index uint64
}

// RedeemerRecord is what the engine reports for one evaluated redeemer.
type RedeemerRecord struct {
	Tag      RedeemerTag `cbor:"tag"`
	Index    uint64      `cbor:"index"`
	Redeemer []byte      `cbor:"redeemer"`
	Logs     []string    `cbor:"logs"`
	Raw      []byte      `cbor:"raw"`
	Cost     Budget      `cbor:"cost"`
	Error    *EvalError  `cbor:"error,omitempty"`
}

// Pointer returns the redeemer pointer the record was evaluated for.
func (r RedeemerRecord) Pointer() RedeemerPointer {
	return RedeemerPointer{Tag: r.Tag, Index: r.Index}
}
