package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is the key-value store backing the node. Trie nodes live behind
// TrieDB while Put/Get hold node metadata such as the committed head.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

type backed struct {
	kv     ethdb.Database
	trieDB *triedb.Database
}

func newBacked(kv ethdb.Database) backed {
	return backed{kv: kv, trieDB: triedb.NewDatabase(kv, triedb.HashDefaults)}
}

func (b backed) Put(key []byte, value []byte) error { return b.kv.Put(key, value) }

func (b backed) Get(key []byte) ([]byte, error) { return b.kv.Get(key) }

func (b backed) Has(key []byte) (bool, error) { return b.kv.Has(key) }

func (b backed) TrieDB() *triedb.Database { return b.trieDB }

func (b backed) Close() {
	_ = b.trieDB.Close()
	_ = b.kv.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	backed
}

func NewMemDB() *MemDB {
	return &MemDB{backed: newBacked(rawdb.NewDatabase(memorydb.New()))}
}

// --- Persistent DB ---

const (
	levelDBNamespace = "tinybank/state/"
	levelDBOpenFiles = 64
)

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	backed
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := gethleveldb.NewCustom(path, levelDBNamespace, func(options *opt.Options) {
		options.OpenFilesCacheCapacity = levelDBOpenFiles
		options.BlockCacheCapacity = 16 * opt.MiB
		options.WriteBuffer = 8 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{backed: newBacked(rawdb.NewDatabase(kv))}, nil
}
