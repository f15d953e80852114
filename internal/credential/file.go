package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// fileDocument is the on-disk layout of credentials.json.
type fileDocument struct {
	Token   string    `json:"token"`
	Sealed  bool      `json:"sealed,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// codec transforms the token on its way to and from disk.
type codec interface {
	encode(c Credential) (string, error)
	decode(s string) (Credential, error)
	sealed() bool
}

type plainCodec struct{}

func (plainCodec) encode(c Credential) (string, error) { return string(c), nil }
func (plainCodec) decode(s string) (Credential, error) { return Credential(s), nil }
func (plainCodec) sealed() bool                        { return false }

// FileStore keeps the credential in a JSON file readable only by the owner.
type FileStore struct {
	path  string
	codec codec
	now   func() time.Time
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, codec: plainCodec{}, now: time.Now}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Get reads the credential. A missing file or empty token means absent.
func (f *FileStore) Get(ctx context.Context) (Credential, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.NewStoreError(errors.ErrCodeStoreRead, "read", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false, errors.NewStoreError(errors.ErrCodeStoreRead, "parse", err)
	}
	if doc.Token == "" {
		return "", false, nil
	}
	if doc.Sealed != f.codec.sealed() {
		return "", false, errors.NewStoreError(errors.ErrCodeStoreRead, "open",
			fmt.Errorf("stored credential sealed=%t but store expects sealed=%t", doc.Sealed, f.codec.sealed()))
	}

	c, err := f.codec.decode(doc.Token)
	if err != nil {
		return "", false, errors.NewStoreError(errors.ErrCodeStoreRead, "open", err)
	}
	return c, !c.IsZero(), nil
}

// Set writes the credential atomically.
func (f *FileStore) Set(ctx context.Context, c Credential) error {
	encoded, err := f.codec.encode(c)
	if err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "seal", err)
	}

	data, err := json.MarshalIndent(fileDocument{
		Token:   encoded,
		Sealed:  f.codec.sealed(),
		SavedAt: f.now().UTC(),
	}, "", "  ")
	if err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "marshal", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "create", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "chmod", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "write", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "close", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "rename", err)
	}
	return nil
}

// Clear deletes the credential file.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.NewStoreError(errors.ErrCodeStoreWrite, "remove", err)
	}
	return nil
}

// Watch reports changes to the credential file made by any process.
// The parent directory is watched so creation after a logout is seen too.
func (f *FileStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreRead, "mkdir", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreRead, "watch", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errors.NewStoreError(errors.ErrCodeStoreRead, "watch", err)
	}

	out := make(chan struct{}, 1)
	name := filepath.Clean(f.path)

	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

var (
	_ Store   = (*FileStore)(nil)
	_ Watcher = (*FileStore)(nil)
)
