package rpc

import (
	"errors"
	"net/http"

	"tinybank/core"
	tberrors "tinybank/core/errors"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNonceMismatch  = -32010
	codeRateLimited    = -32020
	codeInsufficient   = -32030
	codeQuorum         = -32040
	codeNotDeployed    = -32050
	codeIndexDisabled  = -32060
)

type errorClass struct {
	target error
	status int
	code   int
}

var errorClasses = []errorClass{
	{tberrors.ErrInsufficientBalance, http.StatusBadRequest, codeInsufficient},
	{tberrors.ErrInsufficientAllowance, http.StatusBadRequest, codeInsufficient},
	{tberrors.ErrInsufficientStake, http.StatusBadRequest, codeInsufficient},
	{tberrors.ErrUnauthorized, http.StatusForbidden, codeUnauthorized},
	{tberrors.ErrNotAManager, http.StatusForbidden, codeUnauthorized},
	{tberrors.ErrNoPendingChange, http.StatusConflict, codeQuorum},
	{tberrors.ErrQuorumNotMet, http.StatusConflict, codeQuorum},
	{tberrors.ErrNotDeployed, http.StatusServiceUnavailable, codeNotDeployed},
	{tberrors.ErrInvalidAmount, http.StatusBadRequest, codeInvalidParams},
	{tberrors.ErrOverflow, http.StatusBadRequest, codeInvalidParams},
	{core.ErrNonceMismatch, http.StatusBadRequest, codeNonceMismatch},
	{core.ErrChainIDMismatch, http.StatusBadRequest, codeInvalidParams},
	{core.ErrUnknownTxType, http.StatusBadRequest, codeInvalidParams},
	{core.ErrMissingField, http.StatusBadRequest, codeInvalidParams},
}

// classify maps an execution error onto an HTTP status and JSON-RPC code.
// Anything unrecognised is a server error.
func classify(err error) (int, int) {
	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.status, class.code
		}
	}
	return http.StatusInternalServerError, codeServerError
}
