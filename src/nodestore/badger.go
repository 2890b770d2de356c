package nodestore

import (
	"github.com/dgraph-io/badger"

	"github.com/rtxnet/rtxd/src/wire"
)

func init() {
	Register("badger", func(path string) (Store, error) {
		return NewBadgerStore(path)
	})
}

// BadgerStore is a Store backed by a Badger database on disk.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Put implements Store.
func (s *BadgerStore) Put(fp wire.Fingerprint, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fp[:], data)
	})
}

// Get implements Store.
func (s *BadgerStore) Get(fp wire.Fingerprint) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fp[:])
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Has implements Store.
func (s *BadgerStore) Has(fp wire.Fingerprint) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(fp[:])
		return err
	})
	return err == nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
