package offlinegw

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	n:<cache>             cache marker
//	e:<cache>\x00<key>    gob(levelEntry)
//	o:<cache>\x00<seq>    key, seq as 16 hex digits so byte order is write order
const sep = "\x00"

type levelEntry struct {
	Seq  uint64
	Resp Response
}

// LevelDBStore persists named caches across restarts.
type LevelDBStore struct {
	db *leveldb.DB

	// mu serialises compound updates (entry + order index).
	mu  sync.Mutex
	seq uint64
}

func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	s := &LevelDBStore{db: db}
	if err := s.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDBStore) loadSeq() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte("o:")), nil)
	defer it.Release()
	var max uint64
	for it.Next() {
		k := string(it.Key())
		i := strings.LastIndex(k, sep)
		if i < 0 {
			continue
		}
		n, err := strconv.ParseUint(k[i+1:], 16, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	s.seq = max
	return nil
}

func markerKey(name string) []byte { return []byte("n:" + name) }

func entryKey(name, key string) []byte { return []byte("e:" + name + sep + key) }

func orderPrefix(name string) []byte { return []byte("o:" + name + sep) }

func orderKey(name string, seq uint64) []byte {
	return []byte(fmt.Sprintf("o:%s%s%016x", name, sep, seq))
}

func (s *LevelDBStore) Open(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(markerKey(name), nil, nil)
}

func (s *LevelDBStore) Names(context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte("n:"))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LevelDBStore) DeleteCache(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(markerKey(name), nil)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(markerKey(name))
	for _, prefix := range [][]byte{[]byte("e:" + name + sep), orderPrefix(name)} {
		it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, err
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LevelDBStore) get(name, key string) (levelEntry, bool, error) {
	b, err := s.db.Get(entryKey(name, key), nil)
	if err == leveldb.ErrNotFound {
		return levelEntry{}, false, nil
	}
	if err != nil {
		return levelEntry{}, false, err
	}
	var ent levelEntry
	if err := decodeGob(b, &ent); err != nil {
		return levelEntry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return ent, true, nil
}

func (s *LevelDBStore) Match(_ context.Context, name, key string) (Response, bool, error) {
	ent, ok, err := s.get(name, key)
	if err != nil || !ok {
		return Response{}, false, err
	}
	return ent.Resp, true, nil
}

func (s *LevelDBStore) Put(_ context.Context, name, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists, err := s.get(name, key)
	if err != nil {
		return err
	}

	s.seq++
	ent := levelEntry{Seq: s.seq, Resp: resp}
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if exists {
		batch.Delete(orderKey(name, old.Seq))
	}
	batch.Put(markerKey(name), nil)
	batch.Put(entryKey(name, key), b)
	batch.Put(orderKey(name, ent.Seq), []byte(key))
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) Delete(_ context.Context, name, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists, err := s.get(name, key)
	if err != nil || !exists {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(entryKey(name, key))
	batch.Delete(orderKey(name, old.Seq))
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LevelDBStore) Keys(_ context.Context, name string) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(orderPrefix(name)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

