package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/2beens/lxcgate/internal/telemetry/tracing"
	"github.com/2beens/lxcgate/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps credentials in a single indented JSON file, rewritten
// wholesale on every save.
type FileStore struct {
	path  string
	mutex sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) []Credential {
	_, span := tracing.GlobalTracer.Start(ctx, "fileStore.load")
	defer span.End()

	records, err := s.read()
	if err != nil {
		log.Errorf("users file store, load [%s]: %s", s.path, err)
		return []Credential{}
	}
	span.SetAttributes(attribute.Int("users.count", len(records)))
	return records
}

func (s *FileStore) Save(ctx context.Context, records []Credential) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "fileStore.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.write(records)
}

func (s *FileStore) Update(ctx context.Context, fn UpdateFunc) (err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "fileStore.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// an unreadable file must not be silently replaced by a one-record store
	records, err := s.read()
	if err != nil {
		return err
	}

	updated, err := fn(records)
	if err != nil {
		return err
	}

	return s.write(updated)
}

func (s *FileStore) read() ([]Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Credential{}, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}

	records := []Credential{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreCorrupt, err)
	}
	return records, nil
}

func (s *FileStore) write(records []Credential) error {
	if records == nil {
		records = []Credential{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	if err := pkg.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	log.Tracef("users file store: %d records written to %s", len(records), s.path)
	return nil
}
