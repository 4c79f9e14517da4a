package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
	"github.com/bimakw/log-harvester/internal/domain/repositories"
)

var bucketName = []byte("checkpoints")

const recordVersion = 1

// record is the persisted form of a checkpoint
type record struct {
	Version   int         `json:"version"`
	Ranges    [][2]uint64 `json:"ranges"`
	TotalLogs uint64      `json:"total_logs"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store persists checkpoints in a bbolt file. Every MarkComplete runs in
// its own write transaction, so a crash between chunks loses at most the
// chunk in flight.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the checkpoint database at path
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database file
func (s *Store) Close() error {
	return s.db.Close()
}

// Key derives a deterministic checkpoint key from the fetch parameters.
// Contract addresses are lowercased and sorted so equivalent requests map
// to the same checkpoint regardless of argument order.
func Key(chainID uint64, contracts []string, topics []string, tag string) string {
	normalized := make([]string, len(contracts))
	for i, c := range contracts {
		normalized[i] = strings.ToLower(c)
	}
	sort.Strings(normalized)

	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", chainID, strings.Join(normalized, ","), strings.Join(topics, ","), tag)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) Load(ctx context.Context, key string) (*repositories.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var cp *repositories.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode checkpoint %s: %w", key, err)
		}

		completed := entities.NewRangeSet()
		for _, r := range rec.Ranges {
			completed.Add(entities.BlockRange{From: r[0], To: r[1]})
		}
		cp = &repositories.Checkpoint{
			Key:       key,
			Completed: completed,
			TotalLogs: rec.TotalLogs,
			UpdatedAt: rec.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) MarkComplete(ctx context.Context, key string, r entities.BlockRange, logCount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)

		rec := record{Version: recordVersion}
		if raw := bucket.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("failed to decode checkpoint %s: %w", key, err)
			}
		}

		completed := entities.NewRangeSet()
		for _, existing := range rec.Ranges {
			completed.Add(entities.BlockRange{From: existing[0], To: existing[1]})
		}
		completed.Add(r)

		merged := completed.Ranges()
		rec.Ranges = make([][2]uint64, len(merged))
		for i, m := range merged {
			rec.Ranges[i] = [2]uint64{m.From, m.To}
		}
		rec.TotalLogs += logCount
		rec.UpdatedAt = time.Now().UTC()
		rec.Version = recordVersion

		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint %s: %w", key, err)
		}
		return bucket.Put([]byte(key), encoded)
	})
}

func (s *Store) Residual(ctx context.Context, key string, full entities.BlockRange) ([]entities.BlockRange, error) {
	cp, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return []entities.BlockRange{full}, nil
	}
	return cp.Completed.Residual(full), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

var _ repositories.CheckpointRepository = (*Store)(nil)
