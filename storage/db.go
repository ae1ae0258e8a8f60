package storage

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// Database is the key-value backend the ledger store persists into. Both an
// in-memory map and LevelDB satisfy it; Get on a missing key reports
// presence through Has rather than a typed error.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Close()
}

// MemDB is an in-memory Database, used by tests and single-run tooling.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, leveldb.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Close() {}

// LevelDB is the persistent Database backend.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key, nil)
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

// Overlay buffers writes on top of a base Database so a multi-write ledger
// operation either lands whole via Commit or vanishes via Discard. A nil
// entry in the write set shadows a base key as deleted.
type Overlay struct {
	mu     sync.Mutex
	base   Database
	writes map[string][]byte
}

func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, writes: make(map[string][]byte)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.Lock()
	if value, ok := o.writes[string(key)]; ok {
		o.mu.Unlock()
		if value == nil {
			return nil, leveldb.ErrNotFound
		}
		return append([]byte(nil), value...), nil
	}
	o.mu.Unlock()
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	o.mu.Lock()
	if value, ok := o.writes[string(key)]; ok {
		o.mu.Unlock()
		return value != nil, nil
	}
	o.mu.Unlock()
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = nil
	return nil
}

// Commit flushes the buffered writes into the base database.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, value := range o.writes {
		if value == nil {
			if err := o.base.Delete([]byte(key)); err != nil {
				return err
			}
			continue
		}
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}

// Discard drops the buffered writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
}

func (o *Overlay) Close() {}
