package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tinybank/config"
	"tinybank/core"
	"tinybank/crypto"
	"tinybank/explorer"
	"tinybank/storage"
)

// node bundles the long-lived components behind the RPC server.
type node struct {
	db        storage.Database
	processor *core.StateProcessor
	index     *explorer.Index
}

// openNode opens the state database, applies genesis on first start and
// attaches the event index.
func openNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	n := &node{db: db}

	processor, err := core.NewStateProcessor(db, cfg.ChainID, logger)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.processor = processor

	index, err := explorer.Open(cfg.IndexerDSN(), logger)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.index = index
	processor.Subscribe(index.HandleReceipt)

	if !processor.Deployed() {
		spec, err := cfg.GenesisSpec()
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("resolve genesis: %w", err)
		}
		receipt, err := processor.Genesis(spec)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis applied",
			slog.String("owner", crypto.FromArray(spec.OwnerAddress()).String()),
			slog.Int("events", len(receipt.Events)))
	}
	return n, nil
}

func (n *node) Close() {
	if n.index != nil {
		_ = n.index.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}
