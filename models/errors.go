package models

import "errors"

// Sentinel errors returned by the ledger operations. Handlers map these
// onto HTTP status codes, so wrap with fmt.Errorf("%w: ...") when adding
// detail and match with errors.Is.
var (
	ErrorInvalidQuantity           = errors.New("invalid quantity")
	ErrorInsufficientBalance       = errors.New("insufficient balance")
	ErrorInsufficientLabelQuantity = errors.New("insufficient label quantity")
	ErrorAlreadyReverted           = errors.New("transfer already reverted")
	ErrorAlreadyExecuted           = errors.New("cleanup job already executed")
	ErrorNotConfirmed              = errors.New("cleanup execution not confirmed")
	ErrorConflict                  = errors.New("conflicting ledger state")
)
