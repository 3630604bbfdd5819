// Package sqlstore keeps vector records in the primary SQL database and
// scores them in process. It suits small per-document namespaces.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"docchat/internal/vectorstore"
)

type VectorRecord struct {
	ID        string         `gorm:"primaryKey;size:36"`
	Namespace string         `gorm:"size:64;not null;index"`
	Text      string         `gorm:"type:text;not null"`
	Vector    datatypes.JSON `gorm:"not null"`
	Metadata  datatypes.JSON
	CreatedAt time.Time
}

type Store struct {
	db        *gorm.DB
	batchSize int
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, batchSize: 100}
}

// Migrate creates the vector_records table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&VectorRecord{}); err != nil {
		return fmt.Errorf("migrate vector records failed: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if namespace == "" {
		return vectorstore.ErrEmptyNamespace
	}
	if len(records) == 0 {
		return nil
	}

	rows := make([]VectorRecord, len(records))
	for i, rec := range records {
		vec, err := json.Marshal(rec.Vector)
		if err != nil {
			return fmt.Errorf("marshal vector failed: %w", err)
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata failed: %w", err)
		}
		rows[i] = VectorRecord{
			ID:        rec.ID,
			Namespace: namespace,
			Text:      rec.Text,
			Vector:    datatypes.JSON(vec),
			Metadata:  datatypes.JSON(meta),
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, s.batchSize).Error; err != nil {
		return fmt.Errorf("create vector records batch failed: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, vector []float32, k int) ([]vectorstore.Match, error) {
	if namespace == "" {
		return nil, vectorstore.ErrEmptyNamespace
	}

	var rows []VectorRecord
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list vector records failed: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(rows))
	for _, row := range rows {
		var vec []float32
		if err := json.Unmarshal(row.Vector, &vec); err != nil {
			return nil, fmt.Errorf("decode vector %s failed: %w", row.ID, err)
		}
		var meta map[string]interface{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata %s failed: %w", row.ID, err)
			}
		}
		matches = append(matches, vectorstore.Match{
			ID:       row.ID,
			Text:     row.Text,
			Metadata: meta,
			Score:    vectorstore.CosineSimilarity(vector, vec),
		})
	}
	return vectorstore.TopK(matches, k), nil
}

func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return vectorstore.ErrEmptyNamespace
	}
	if err := s.db.WithContext(ctx).Where("namespace = ?", namespace).Delete(&VectorRecord{}).Error; err != nil {
		return fmt.Errorf("delete vector namespace failed: %w", err)
	}
	return nil
}
