package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/po-matcher/internal/scanning"
)

const extractionBucket = "extractions"

// Cache stores extracted documents keyed by file content and document type
type Cache interface {
	// Get returns the cached document, or nil when there is none
	Get(key string) (*scanning.DocumentData, error)
	// Put stores a document
	Put(key string, doc *scanning.DocumentData) error
	// Close closes the cache
	Close() error
}

// CacheKey identifies an extraction of data as docType
func CacheKey(data []byte, docType string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ":" + docType
}

type cachedExtraction struct {
	Document  scanning.DocumentData `json:"document"`
	CreatedAt time.Time             `json:"created_at"`
}

// BoltCache implements Cache using BoltDB
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens or creates the cache database at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(extractionBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Get returns the cached document for key
func (b *BoltCache) Get(key string) (*scanning.DocumentData, error) {
	var entry *cachedExtraction
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(extractionBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("reading cached extraction: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	return &entry.Document, nil
}

// Put stores doc under key
func (b *BoltCache) Put(key string, doc *scanning.DocumentData) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cachedExtraction{Document: *doc, CreatedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("marshaling extraction: %w", err)
		}
		return tx.Bucket([]byte(extractionBucket)).Put([]byte(key), data)
	})
}

// Close closes the database
func (b *BoltCache) Close() error {
	return b.db.Close()
}

// noCache is used when no cache path is configured
type noCache struct{}

func (noCache) Get(string) (*scanning.DocumentData, error) { return nil, nil }
func (noCache) Put(string, *scanning.DocumentData) error   { return nil }
func (noCache) Close() error                               { return nil }
