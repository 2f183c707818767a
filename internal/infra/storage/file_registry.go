// Package storage holds the donation registry backends.
//
// FileRegistry keeps the whole registry in one pretty-printed JSON document.
// Every mutation is a full read, an in-memory append and a full rewrite, run
// on the shared queue.Serializer so concurrent requests cannot lose updates.
// The rewrite goes to a temporary file that is renamed over the original, so
// readers only ever see a complete document.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"relief/internal/infra/queue"
	"relief/model"
)

var registryCodec = sonic.ConfigStd

type registryDocument struct {
	Donations *[]model.DonationRecord `json:"donations"`
}

type FileRegistry struct {
	path   string
	writer *queue.Serializer
	logger *slog.Logger
	now    func() time.Time
}

func NewFileRegistry(path string, writer *queue.Serializer, logger *slog.Logger) *FileRegistry {
	return &FileRegistry{
		path:   path,
		writer: writer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *FileRegistry) Path() string {
	return r.path
}

// Initialize creates an empty registry when the file does not exist yet.
func (r *FileRegistry) Initialize(ctx context.Context) error {
	return r.submit(ctx, func() error {
		_, err := os.Stat(r.path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: stat %s: %v", model.ErrStorageUnavailable, r.path, err)
		}

		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir: %v", model.ErrStorageUnavailable, err)
		}
		if err := r.write([]model.DonationRecord{}); err != nil {
			return err
		}

		r.logger.Info("registry initialized", "path", r.path)
		return nil
	})
}

func (r *FileRegistry) Load(_ context.Context) ([]model.DonationRecord, error) {
	return r.read()
}

// Append stores record with a fresh timestamp and returns the updated sequence.
func (r *FileRegistry) Append(ctx context.Context, record model.DonationRecord) ([]model.DonationRecord, error) {
	var updated []model.DonationRecord

	err := r.submit(ctx, func() error {
		current, err := r.read()
		if err != nil {
			return err
		}

		for _, existing := range current {
			if existing.ID == record.ID {
				return fmt.Errorf("%w: %s", model.ErrDuplicateDonation, record.ID)
			}
		}

		record.Timestamp = r.now()
		next := append(current, record)
		if err := r.write(next); err != nil {
			return err
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("donation appended", "id", record.ID, "amount", record.AmountMinorUnits, "count", len(updated))
	return updated, nil
}

func (r *FileRegistry) FindByID(ctx context.Context, id string) (model.DonationRecord, error) {
	donations, err := r.Load(ctx)
	if err != nil {
		return model.DonationRecord{}, err
	}
	for _, d := range donations {
		if d.ID == id {
			return d, nil
		}
	}
	return model.DonationRecord{}, model.ErrNotFound
}

// FindByEmailAndAmount returns the first record with exactly this email and
// amount. Both amounts are minor units.
func (r *FileRegistry) FindByEmailAndAmount(ctx context.Context, email string, amountMinorUnits int64) (model.DonationRecord, error) {
	donations, err := r.Load(ctx)
	if err != nil {
		return model.DonationRecord{}, err
	}
	for _, d := range donations {
		if d.Email == email && d.AmountMinorUnits == amountMinorUnits {
			return d, nil
		}
	}
	return model.DonationRecord{}, model.ErrNotFound
}

func (r *FileRegistry) submit(ctx context.Context, fn func() error) error {
	err := r.writer.Do(ctx, fn)
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return err
}

func (r *FileRegistry) read() ([]model.DonationRecord, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrStorageUnavailable, r.path, err)
	}

	var doc registryDocument
	if err := registryCodec.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageCorrupt, err)
	}
	if doc.Donations == nil {
		return nil, fmt.Errorf("%w: missing donations list", model.ErrStorageCorrupt)
	}
	return *doc.Donations, nil
}

func (r *FileRegistry) write(donations []model.DonationRecord) error {
	raw, err := registryCodec.MarshalIndent(model.Registry{Donations: donations}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", model.ErrStorageUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", model.ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", model.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", model.ErrStorageUnavailable, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: chmod: %v", model.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("%w: rename: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}
