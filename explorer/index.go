package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tinybank/core/types"
	"tinybank/crypto"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Index persists committed events so they can be queried by block, type or
// participating account.
type Index struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the event database. postgres:// and postgresql:// DSNs use
// the postgres driver; anything else is handed to sqlite.
func Open(dsn string, log *slog.Logger) (*Index, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, errors.New("explorer: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("explorer: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Index, error) {
	if db == nil {
		return nil, errors.New("explorer: nil database")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("explorer: migrate: %w", err)
	}
	return &Index{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores every event carried by the receipt in a single transaction.
func (i *Index) Record(ctx context.Context, receipt *types.Receipt) error {
	if receipt == nil || len(receipt.Events) == 0 {
		return nil
	}
	records := make([]EventRecord, 0, len(receipt.Events))
	for idx, evt := range receipt.Events {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return fmt.Errorf("explorer: encode attributes: %w", err)
		}
		records = append(records, EventRecord{
			ID:          uuid.New(),
			BlockNumber: receipt.BlockNumber,
			BlockHash:   receipt.BlockHash.Hex(),
			TxHash:      receipt.TxHash.Hex(),
			TxType:      receipt.Type,
			Sender:      receipt.From,
			Position:    idx,
			Type:        evt.Type,
			Accounts:    accountsColumn(evt.Attributes),
			Attributes:  string(attrs),
		})
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
}

// HandleReceipt is a processor subscriber. Indexing failures are logged and
// never reach the state machine.
func (i *Index) HandleReceipt(receipt *types.Receipt) {
	if err := i.Record(context.Background(), receipt); err != nil {
		i.logger.Error("index receipt failed",
			slog.Uint64("height", receipt.BlockNumber),
			slog.String("tx", receipt.TxHash.Hex()),
			slog.Any("error", err))
	}
}

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	Account   string
	Type      string
	FromBlock uint64
	ToBlock   uint64
	Limit     int
	Offset    int
}

// Entry is the query view of an EventRecord.
type Entry struct {
	BlockNumber uint64            `json:"blockNumber"`
	BlockHash   string            `json:"blockHash"`
	TxHash      string            `json:"transactionHash"`
	TxType      string            `json:"txType"`
	Sender      string            `json:"from"`
	Position    int               `json:"position"`
	Type        string            `json:"type"`
	Label       string            `json:"label"`
	Attributes  map[string]string `json:"attributes"`
}

// List returns matching events ordered by block and position.
func (i *Index) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := i.db.WithContext(ctx).Model(&EventRecord{})
	if account := strings.TrimSpace(filter.Account); account != "" {
		addr, err := crypto.ParseAddress(account)
		if err != nil {
			return nil, fmt.Errorf("explorer: account: %w", err)
		}
		query = query.Where("accounts LIKE ?", "%,"+crypto.FromArray(addr).String()+",%")
	}
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if filter.FromBlock > 0 {
		query = query.Where("block_number >= ?", filter.FromBlock)
	}
	if filter.ToBlock > 0 {
		query = query.Where("block_number <= ?", filter.ToBlock)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []EventRecord
	if err := query.Order("block_number ASC").Order("position ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("explorer: list: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("explorer: decode attributes: %w", err)
			}
		}
		entries = append(entries, Entry{
			BlockNumber: row.BlockNumber,
			BlockHash:   row.BlockHash,
			TxHash:      row.TxHash,
			TxType:      row.TxType,
			Sender:      row.Sender,
			Position:    row.Position,
			Type:        row.Type,
			Label:       Label(row.Type),
			Attributes:  attrs,
		})
	}
	return entries, nil
}

// accountsColumn collects the addresses mentioned by an event. Amount
// attributes never parse as addresses, so keys need no special casing.
func accountsColumn(attrs map[string]string) string {
	seen := make(map[string]struct{})
	for _, value := range attrs {
		if !strings.HasPrefix(value, string(crypto.TinyBankPrefix)+"1") {
			continue
		}
		if _, err := crypto.ParseAddress(value); err != nil {
			continue
		}
		seen[value] = struct{}{}
	}
	if len(seen) == 0 {
		return ""
	}
	accounts := make([]string, 0, len(seen))
	for addr := range seen {
		accounts = append(accounts, addr)
	}
	sort.Strings(accounts)
	return "," + strings.Join(accounts, ",") + ","
}
