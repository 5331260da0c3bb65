package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"tinybank/core"
	"tinybank/crypto"
	"tinybank/explorer"
)

func decodeAddressParam(req *RPCRequest, idx int, name string) ([20]byte, *methodError) {
	if len(req.Params) <= idx {
		return [20]byte{}, newMethodError(http.StatusBadRequest, codeInvalidParams, name+" parameter required", nil)
	}
	var raw string
	if err := json.Unmarshal(req.Params[idx], &raw); err != nil {
		return [20]byte{}, newMethodError(http.StatusBadRequest, codeInvalidParams, name+" must be a string", err.Error())
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, newMethodError(http.StatusBadRequest, codeInvalidParams, "invalid "+name, err.Error())
	}
	return addr, nil
}

// view runs fn against committed state and converts failures.
func (s *Server) view(fn func(*core.Engines) error) *methodError {
	if err := s.chain.View(fn); err != nil {
		status, code := classify(err)
		return newMethodError(status, code, err.Error(), nil)
	}
	return nil
}

func (s *Server) handleGetTokenInfo(_ *http.Request, _ *RPCRequest) (interface{}, *methodError) {
	var result TokenInfoResult
	mErr := s.view(func(e *core.Engines) error {
		meta, err := e.Ledger.Metadata()
		if err != nil {
			return err
		}
		result = TokenInfoResult{
			Address:     formatAddress(e.Deployment.Token),
			Name:        meta.Name,
			Symbol:      meta.Symbol,
			Decimals:    meta.Decimals,
			TotalSupply: newAmount(meta.TotalSupply, meta.Decimals),
			Owner:       formatAddress(meta.Owner),
		}
		if meta.HasMinter {
			result.Minter = formatAddress(meta.Minter)
		}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetBalance(_ *http.Request, req *RPCRequest) (interface{}, *methodError) {
	addr, mErr := decodeAddressParam(req, 0, "address")
	if mErr != nil {
		return nil, mErr
	}
	var result BalanceResult
	mErr = s.view(func(e *core.Engines) error {
		decimals, err := e.Ledger.Decimals()
		if err != nil {
			return err
		}
		balance, err := e.Ledger.BalanceOf(addr)
		if err != nil {
			return err
		}
		nonce, err := e.State.Nonce(addr[:])
		if err != nil {
			return err
		}
		result = BalanceResult{Address: formatAddress(addr), Balance: newAmount(balance, decimals), Nonce: nonce}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetAllowance(_ *http.Request, req *RPCRequest) (interface{}, *methodError) {
	owner, mErr := decodeAddressParam(req, 0, "owner")
	if mErr != nil {
		return nil, mErr
	}
	spender, mErr := decodeAddressParam(req, 1, "spender")
	if mErr != nil {
		return nil, mErr
	}
	var result AllowanceResult
	mErr = s.view(func(e *core.Engines) error {
		decimals, err := e.Ledger.Decimals()
		if err != nil {
			return err
		}
		allowance, err := e.Ledger.Allowance(owner, spender)
		if err != nil {
			return err
		}
		result = AllowanceResult{
			Owner:     formatAddress(owner),
			Spender:   formatAddress(spender),
			Allowance: newAmount(allowance, decimals),
		}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetStake(_ *http.Request, req *RPCRequest) (interface{}, *methodError) {
	addr, mErr := decodeAddressParam(req, 0, "address")
	if mErr != nil {
		return nil, mErr
	}
	height := s.chain.Head().Height
	var result StakeResult
	mErr = s.view(func(e *core.Engines) error {
		decimals, err := e.Ledger.Decimals()
		if err != nil {
			return err
		}
		rec, err := e.Pool.StakeRecord(addr)
		if err != nil {
			return err
		}
		pending, err := e.Pool.PendingReward(addr)
		if err != nil {
			return err
		}
		result = StakeResult{
			Address:          formatAddress(addr),
			Principal:        newAmount(rec.Principal, decimals),
			PendingReward:    newAmount(pending, decimals),
			LastAccrualBlock: rec.LastAccrualBlock,
			Height:           height,
		}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetPool(_ *http.Request, _ *RPCRequest) (interface{}, *methodError) {
	height := s.chain.Head().Height
	var result PoolResult
	mErr := s.view(func(e *core.Engines) error {
		decimals, err := e.Ledger.Decimals()
		if err != nil {
			return err
		}
		owner, err := e.Pool.Owner()
		if err != nil {
			return err
		}
		total, err := e.Pool.TotalStaked()
		if err != nil {
			return err
		}
		rate, err := e.Pool.RewardPerBlock()
		if err != nil {
			return err
		}
		result = PoolResult{
			Address:        formatAddress(e.Deployment.Pool),
			Owner:          formatAddress(owner),
			TotalStaked:    newAmount(total, decimals),
			RewardPerBlock: newAmount(rate, decimals),
			Height:         height,
		}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetQuorum(_ *http.Request, _ *RPCRequest) (interface{}, *methodError) {
	var result QuorumResult
	mErr := s.view(func(e *core.Engines) error {
		decimals, err := e.Ledger.Decimals()
		if err != nil {
			return err
		}
		managers, err := e.Quorum.Managers()
		if err != nil {
			return err
		}
		pending, hasPending, err := e.Quorum.Pending()
		if err != nil {
			return err
		}
		confirmed, required, err := e.Quorum.Confirmations()
		if err != nil {
			return err
		}
		result = QuorumResult{
			Topic:       e.Quorum.Topic(),
			Managers:    formatAddresses(managers),
			HasPending:  hasPending,
			ConfirmedBy: []string{},
			Confirmed:   confirmed,
			Required:    required,
		}
		if hasPending {
			value := newAmount(pending.Value, decimals)
			result.Pending = &value
			result.ConfirmedBy = formatAddresses(pending.ConfirmedBy)
			result.Reached = confirmed == required
		}
		return nil
	})
	if mErr != nil {
		return nil, mErr
	}
	return result, nil
}

func (s *Server) handleGetNonce(_ *http.Request, req *RPCRequest) (interface{}, *methodError) {
	addr, mErr := decodeAddressParam(req, 0, "address")
	if mErr != nil {
		return nil, mErr
	}
	nonce, err := s.chain.Nonce(addr)
	if err != nil {
		return nil, newMethodError(http.StatusInternalServerError, codeServerError, "failed to load nonce", err.Error())
	}
	return NonceResult{Address: formatAddress(addr), Nonce: nonce}, nil
}

func (s *Server) handleGetHeight(_ *http.Request, _ *RPCRequest) (interface{}, *methodError) {
	head := s.chain.Head()
	return HeightResult{ChainID: s.chain.ChainID(), Height: head.Height, BlockHash: head.Hash.Hex(), StateRoot: head.Root.Hex()}, nil
}

type listEventsParams struct {
	Account   string `json:"account,omitempty"`
	Type      string `json:"type,omitempty"`
	FromBlock uint64 `json:"fromBlock,omitempty"`
	ToBlock   uint64 `json:"toBlock,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

func (s *Server) handleListEvents(r *http.Request, req *RPCRequest) (interface{}, *methodError) {
	if s.events == nil {
		return nil, newMethodError(http.StatusServiceUnavailable, codeIndexDisabled, "event index not configured", nil)
	}
	var params listEventsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			return nil, newMethodError(http.StatusBadRequest, codeInvalidParams, "invalid filter", err.Error())
		}
	}
	if account := strings.TrimSpace(params.Account); account != "" {
		if _, err := crypto.ParseAddress(account); err != nil {
			return nil, newMethodError(http.StatusBadRequest, codeInvalidParams, "invalid account", err.Error())
		}
	}
	entries, err := s.events.List(r.Context(), explorer.Filter{
		Account:   params.Account,
		Type:      params.Type,
		FromBlock: params.FromBlock,
		ToBlock:   params.ToBlock,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
	if err != nil {
		return nil, newMethodError(http.StatusInternalServerError, codeServerError, "failed to list events", err.Error())
	}
	return entries, nil
}
