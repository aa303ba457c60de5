package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrWrite marks a failed certificate append. It is fatal to the request that
// produced it: no answer is released without a persisted certificate.
var ErrWrite = errors.New("certificate write failure")

const (
	certKeyPrefix = "cert/"
	chainHeadKey  = "chain/head"
)

// Log is the append-only certificate store, backed by an embedded BadgerDB so
// it survives process restarts. Appends from concurrent requests are safe:
// each record is independently keyed by answer id, and the chain head is
// advanced under a single writer lock inside one transaction.
type Log struct {
	db *badger.DB

	// mu serializes chain-head read-modify-write across appends.
	mu sync.Mutex
}

// Open opens (or creates) the log at dir. An empty dir opens an in-memory
// log, used by tests.
func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open certificate log: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append computes the digests for in and persists the certificate in a single
// transaction. The context is checked before the commit so a cancelled
// request leaves no partially written record.
func (l *Log) Append(ctx context.Context, answerID string, in Inputs) (Certificate, error) {
	if answerID == "" {
		return Certificate{}, fmt.Errorf("%w: empty answer id", ErrWrite)
	}

	digest := ComputeDigest(in)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Certificate{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	cert := Certificate{
		AnswerID:  answerID,
		Digest:    digest,
		CreatedAt: time.Now().UTC(),
	}

	err := l.db.Update(func(txn *badger.Txn) error {
		prev, err := readChainHead(txn)
		if err != nil {
			return err
		}
		cert.PrevDigest = prev
		cert.ChainDigest = ChainDigest(prev, digest)

		payload, err := json.Marshal(cert)
		if err != nil {
			return fmt.Errorf("marshal certificate: %w", err)
		}
		if err := txn.Set([]byte(certKeyPrefix+answerID), payload); err != nil {
			return fmt.Errorf("set certificate: %w", err)
		}
		if err := txn.Set([]byte(chainHeadKey), []byte(cert.ChainDigest)); err != nil {
			return fmt.Errorf("set chain head: %w", err)
		}
		return nil
	})
	if err != nil {
		return Certificate{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	return cert, nil
}

// Get fetches a persisted certificate by answer id.
func (l *Log) Get(answerID string) (Certificate, bool, error) {
	var cert Certificate
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(certKeyPrefix + answerID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cert)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Certificate{}, false, nil
	}
	if err != nil {
		return Certificate{}, false, fmt.Errorf("read certificate: %w", err)
	}
	return cert, true, nil
}

// ChainHead returns the current head of the digest chain, empty when the log
// holds no certificates yet.
func (l *Log) ChainHead() (string, error) {
	var head string
	err := l.db.View(func(txn *badger.Txn) error {
		h, err := readChainHead(txn)
		if err != nil {
			return err
		}
		head = h
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}

func readChainHead(txn *badger.Txn) (string, error) {
	item, err := txn.Get([]byte(chainHeadKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get chain head: %w", err)
	}
	var head string
	err = item.Value(func(val []byte) error {
		head = string(val)
		return nil
	})
	return head, err
}
