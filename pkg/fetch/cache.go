package fetch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var downloadsBucket = []byte("downloads")

const cacheTimeout = 5 * time.Second

// download is what the cache remembers of a completed download
type download struct {
	Path   string    `json:"path"`
	Size   int64     `json:"size"`
	SHA256 string    `json:"sha256"`
	At     time.Time `json:"at"`
}

// cache maps sources to the files they were downloaded to. The database is a bolt file on
// the local disk, opened for the time of a lookup or a record only, so that concurrent
// builds share it.
type cache struct {
	path string
}

// lookup returns the last download of a source. A missing database is an empty cache.
func (c *cache) lookup(source string) (*download, error) {
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := bolt.Open(c.path, 0600, &bolt.Options{ReadOnly: true, Timeout: cacheTimeout})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var d *download
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(source))
		if v == nil {
			return nil
		}
		d = &download{}
		return json.Unmarshal(v, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *cache) record(source string, d download) error {
	v, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	db, err := bolt.Open(c.path, 0600, &bolt.Options{Timeout: cacheTimeout})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(downloadsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(source), v)
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}
