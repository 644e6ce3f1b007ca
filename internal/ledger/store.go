package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Store persists the user ledger. Update runs a read-modify-write cycle for
// a single user atomically with respect to every other Update, which closes
// the lost-update window a bare load/save pair would leave open.
type Store interface {
	// Load returns the full persisted book. Absent or corrupt state loads
	// as an empty book, never an error worth failing startup over.
	Load(ctx context.Context) (Book, error)

	// Update applies fn to one user's account and persists the result. The
	// account is created empty when the user has none yet. When fn returns
	// an error nothing is persisted and the error is returned unchanged.
	Update(ctx context.Context, user string, fn func(*Account) error) error
}

// FileStore keeps the whole book in a single JSON document. A store-wide
// mutex serializes updates; writes go through a temp file and rename so a
// crash mid-write never truncates the ledger.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load(ctx context.Context) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

func (s *FileStore) Update(ctx context.Context, user string, fn func(*Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.read()
	acct, ok := book[user]
	if !ok {
		acct = NewAccount()
		book[user] = acct
	}
	if err := fn(acct); err != nil {
		return err
	}
	return s.write(book)
}

// read loads the book from disk. The caller holds s.mu.
func (s *FileStore) read() Book {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("ledger file unreadable, starting empty")
		}
		return Book{}
	}

	var book Book
	if err := json.Unmarshal(data, &book); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("ledger file corrupt, starting empty")
		return Book{}
	}
	if book == nil {
		book = Book{}
	}
	return book
}

// write persists the book atomically. The caller holds s.mu.
func (s *FileStore) write(book Book) error {
	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*")
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("ledger write failed")
		return fmt.Errorf("write ledger: %w", ErrPersistence)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		log.Error().Err(err).Str("path", s.path).Msg("ledger write failed")
		return fmt.Errorf("write ledger: %w", ErrPersistence)
	}
	if err := tmp.Close(); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("ledger write failed")
		return fmt.Errorf("write ledger: %w", ErrPersistence)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("ledger rename failed")
		return fmt.Errorf("write ledger: %w", ErrPersistence)
	}
	return nil
}
