// Package store is the device-side offline queue: pending clock actions,
// pending location samples and a little session metadata, kept in a bbolt
// file with every value encrypted at rest.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/okian/fieldguard/internal/domain/model"
)

var (
	bucketActions = []byte("actions")
	bucketSamples = []byte("samples")
	bucketMeta    = []byte("meta")

	keySalt  = []byte("salt")
	keyCheck = []byte("check")

	checkPlaintext = []byte("fieldguard-offline-store")
)

// Meta keys used by the agent.
const (
	MetaToken      = "token"
	MetaLastSync   = "last_sync"
	MetaLastFix    = "last_fix"
	MetaLastResult = "last_result"
)

// Store persists pending work before any network attempt. Appends and
// replay scans may run concurrently: bbolt serializes writers and gives
// readers a consistent snapshot.
type Store struct {
	db     *bolt.DB
	sealer *sealer
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store at path. The passphrase must match the
// one the file was created with.
func Open(path, passphrase string, opts ...Option) (*Store, error) {
	o := options{openTimeout: 5 * time.Second, kdf: defaultKDF, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{db: db, now: o.now}
	if err := s.init(passphrase, o.kdf); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(passphrase string, kdf kdfParams) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketActions, bucketSamples, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)

		salt := meta.Get(keySalt)
		fresh := salt == nil
		if fresh {
			var err error
			if salt, err = newSalt(); err != nil {
				return err
			}
			if err := meta.Put(keySalt, salt); err != nil {
				return err
			}
		}

		sl, err := newSealer(passphrase, salt, kdf)
		if err != nil {
			return err
		}
		if fresh {
			check, err := sl.seal(checkPlaintext, keyCheck)
			if err != nil {
				return err
			}
			if err := meta.Put(keyCheck, check); err != nil {
				return err
			}
		} else {
			got, err := sl.open(meta.Get(keyCheck), keyCheck)
			if err != nil || !bytes.Equal(got, checkPlaintext) {
				return ErrBadPassphrase
			}
		}
		s.sealer = sl
		return nil
	})
}

// Close releases the file lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(*bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(*bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// AppendAction queues a clock action. ID and CreatedAt are assigned here;
// an empty IdempotencyKey gets a fresh ULID so every replay of the action
// carries the same key.
func (s *Store) AppendAction(ctx context.Context, a model.PendingAttendanceAction) (model.PendingAttendanceAction, error) {
	if _, ok := model.ParseActionKind(string(a.Kind)); !ok {
		return a, model.Invalid("actionType", "must be TIME_IN or TIME_OUT")
	}
	if a.ActionTimestamp.IsZero() {
		return a, model.Invalid("actionTimestamp", "is required")
	}
	if a.IdempotencyKey == "" {
		a.IdempotencyKey = ulid.Make().String()
	}
	a.CreatedAt = s.now().UTC()

	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.ID = id
		return s.put(b, bucketActions, id, a)
	})
	return a, err
}

// PendingActions returns up to limit actions ordered by action timestamp,
// then by insertion order.
func (s *Store) PendingActions(ctx context.Context, limit int) ([]model.PendingAttendanceAction, error) {
	var out []model.PendingAttendanceAction
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var a model.PendingAttendanceAction
			if err := s.get(bucketActions, k, v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ActionTimestamp.Equal(out[j].ActionTimestamp) {
			return out[i].ActionTimestamp.Before(out[j].ActionTimestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteAction removes an action. Deleting a missing action is not an error.
func (s *Store) DeleteAction(ctx context.Context, id uint64) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).Delete(itob(id))
	})
}

// MarkFailed increments the retry count and records the last error.
func (s *Store) MarkFailed(ctx context.Context, id uint64, cause string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		k := itob(id)
		v := b.Get(k)
		if v == nil {
			return ErrNotFound
		}
		var a model.PendingAttendanceAction
		if err := s.get(bucketActions, k, v, &a); err != nil {
			return err
		}
		a.RetryCount++
		a.LastError = cause
		return s.put(b, bucketActions, id, a)
	})
}

// AppendSample queues a location sample for upload.
func (s *Store) AppendSample(ctx context.Context, sample model.LocationSample) (model.PendingLocationSample, error) {
	if err := sample.Validate(); err != nil {
		return model.PendingLocationSample{}, err
	}
	p := model.PendingLocationSample{LocationSample: sample}
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		p.ID = id
		return s.put(b, bucketSamples, id, p)
	})
	return p, err
}

// PendingSamples returns up to limit samples in insertion order.
func (s *Store) PendingSamples(ctx context.Context, limit int) ([]model.PendingLocationSample, error) {
	var out []model.PendingLocationSample
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSamples).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var p model.PendingLocationSample
			if err := s.get(bucketSamples, k, v, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// DeleteSamples removes uploaded samples in one transaction.
func (s *Store) DeleteSamples(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		for _, id := range ids {
			if err := b.Delete(itob(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts returns the number of pending actions and samples.
func (s *Store) Counts(ctx context.Context) (actions, samples int, err error) {
	err = s.view(ctx, func(tx *bolt.Tx) error {
		actions = tx.Bucket(bucketActions).Stats().KeyN
		samples = tx.Bucket(bucketSamples).Stats().KeyN
		return nil
	})
	return actions, samples, err
}

// PutMeta stores an encrypted metadata value.
func (s *Store) PutMeta(ctx context.Context, key string, value []byte) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		k := []byte("m:" + key)
		sealed, err := s.sealer.seal(value, k)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(k, sealed)
	})
}

// Meta returns a metadata value, or nil if it was never set.
func (s *Store) Meta(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(tx *bolt.Tx) error {
		k := []byte("m:" + key)
		v := tx.Bucket(bucketMeta).Get(k)
		if v == nil {
			return nil
		}
		plain, err := s.sealer.open(v, k)
		if err != nil {
			return err
		}
		out = plain
		return nil
	})
	return out, err
}

// DeleteMeta removes a metadata value.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete([]byte("m:" + key))
	})
}

// Token returns the saved bearer token, or "" when logged out.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, err := s.Meta(ctx, MetaToken)
	return string(v), err
}

// SetToken saves the bearer token.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.PutMeta(ctx, MetaToken, []byte(token))
}

// ClearToken forgets the bearer token. Queued work is kept.
func (s *Store) ClearToken(ctx context.Context) error {
	return s.DeleteMeta(ctx, MetaToken)
}

// PutTime stores a timestamp under key.
func (s *Store) PutTime(ctx context.Context, key string, t time.Time) error {
	b, err := t.UTC().MarshalBinary()
	if err != nil {
		return err
	}
	return s.PutMeta(ctx, key, b)
}

// Time returns the timestamp under key, or the zero time.
func (s *Store) Time(ctx context.Context, key string) (time.Time, error) {
	var t time.Time
	b, err := s.Meta(ctx, key)
	if err != nil || b == nil {
		return t, err
	}
	err = t.UnmarshalBinary(b)
	return t, err
}

func (s *Store) put(b *bolt.Bucket, bucket []byte, id uint64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	k := itob(id)
	sealed, err := s.sealer.seal(raw, associated(bucket, k))
	if err != nil {
		return err
	}
	return b.Put(k, sealed)
}

func (s *Store) get(bucket, k, v []byte, dst any) error {
	raw, err := s.sealer.open(v, associated(bucket, k))
	if err != nil {
		return fmt.Errorf("%s/%d: %w", bucket, binary.BigEndian.Uint64(k), err)
	}
	return json.Unmarshal(raw, dst)
}

func associated(bucket, k []byte) []byte {
	ad := make([]byte, 0, len(bucket)+1+len(k))
	ad = append(ad, bucket...)
	ad = append(ad, '/')
	return append(ad, k...)
}

// itob encodes ids big-endian so bbolt's byte order is insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
