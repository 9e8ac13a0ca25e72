package cashu

type CashuErrCode int

// Error represents an error to be returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Common error codes
const (
	StandardErrCode CashuErrCode = 10000
	// These will never be returned in a response.
	// Using them to identify internally where
	// the error originated and log appropriately
	DBErrCode     CashuErrCode = 1
	SignerErrCode CashuErrCode = 2

	BlindedMessageAlreadySignedErrCode CashuErrCode = 10002
	InvalidProofErrCode                CashuErrCode = 10003

	ProofAlreadyUsedErrCode   CashuErrCode = 11001
	TransactionUnbalancedCode CashuErrCode = 11002
	UnitErrCode               CashuErrCode = 11005
	AmountLimitExceeded       CashuErrCode = 11006
	DuplicateInputsErrCode    CashuErrCode = 11007
	DuplicateOutputsErrCode   CashuErrCode = 11008
	MultipleUnitsErrCode      CashuErrCode = 11009

	UnknownKeysetErrCode  CashuErrCode = 12001
	InactiveKeysetErrCode CashuErrCode = 12002
)

var (
	StandardErr                 = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr            = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InactiveKeysetErr           = Error{Detail: "keyset is inactive", Code: InactiveKeysetErrCode}
	UnitNotSupportedErr         = Error{Detail: "unit not supported", Code: UnitErrCode}
	MultipleUnitsErr            = Error{Detail: "inputs or outputs use multiple units", Code: MultipleUnitsErrCode}
	BlindedMessageAlreadySigned = Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	DuplicateOutputs            = Error{Detail: "duplicate outputs", Code: DuplicateOutputsErrCode}
	NoOutputsProvided           = Error{Detail: "no outputs provided", Code: StandardErrCode}
	ProofAlreadyUsedErr         = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr             = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	InvalidSecretErr            = Error{Detail: "invalid proof secret", Code: InvalidProofErrCode}
	NoProofsProvided            = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs             = Error{Detail: "duplicate proofs", Code: DuplicateInputsErrCode}
	AmountOverflowErr           = Error{Detail: "total amount does not fit in 64 bits", Code: AmountLimitExceeded}
	TransactionUnbalancedErr    = Error{Detail: "inputs and outputs are not balanced", Code: TransactionUnbalancedCode}
	InvalidBlindedMessageAmount = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	BatchTooLargeErr            = Error{Detail: "too many inputs or outputs in request", Code: StandardErrCode}
)
