// Package persist reads and writes datastacks on local disk or remote object
// storage. The backend is picked by the path scheme: s3://bucket/key,
// az://container/blob, or a plain filesystem path.
package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rescale/modelbench/internal/datastack"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
)

var (
	// ErrEmptyPath is returned when a read or write is asked for path "".
	ErrEmptyPath = errors.New("empty path")

	// ErrUnsupportedScheme is returned for a path whose scheme has no
	// registered backend.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
)

// Backend stores whole objects.
type Backend interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
}

// Store implements datastack.Persistence on top of Backends.
type Store struct {
	local    Backend
	remote   map[string]Backend
	renderer *ScriptRenderer
	logger   *logging.Logger
}

var _ datastack.Persistence = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBackend serves paths of the form scheme://... from b.
func WithBackend(scheme string, b Backend) Option {
	return func(s *Store) {
		s.remote[strings.ToLower(scheme)] = b
	}
}

// WithLocal replaces the filesystem backend.
func WithLocal(b Backend) Option {
	return func(s *Store) { s.local = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store with the local filesystem backend and any
// remote backends given as options.
func NewStore(opts ...Option) *Store {
	s := &Store{
		local:    LocalBackend{},
		remote:   make(map[string]Backend),
		renderer: NewScriptRenderer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("persist")
	return s
}

// SplitScheme splits "s3://bucket/key" into ("s3", "bucket/key"). Paths
// without a scheme, including Windows drive paths, return "".
func SplitScheme(path string) (scheme, rest string) {
	i := strings.Index(path, "://")
	if i <= 1 {
		return "", path
	}
	return strings.ToLower(path[:i]), path[i+3:]
}

func (s *Store) backendFor(path string) (Backend, string, error) {
	if path == "" {
		return nil, "", ErrEmptyPath
	}
	scheme, rest := SplitScheme(path)
	if scheme == "" {
		return s.local, path, nil
	}
	b, ok := s.remote[scheme]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return b, rest, nil
}

func (s *Store) write(ctx context.Context, path string, data []byte) error {
	b, target, err := s.backendFor(path)
	if err != nil {
		return err
	}
	if err := b.Write(ctx, target, data); err != nil {
		return err
	}
	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("wrote datastack")
	return nil
}

func (s *Store) read(ctx context.Context, path string) ([]byte, error) {
	b, target, err := s.backendFor(path)
	if err != nil {
		return nil, err
	}
	return b.Read(ctx, target)
}

// WriteParameterSet writes payload as indented JSON.
func (s *Store) WriteParameterSet(ctx context.Context, path string, payload models.ParameterSet) error {
	data, err := datastack.MarshalParameterSet(payload)
	if err != nil {
		return err
	}
	return s.write(ctx, path, data)
}

// WriteScript renders payload as a runnable script and writes it.
func (s *Store) WriteScript(ctx context.Context, path string, payload models.ScriptPayload) error {
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, payload); err != nil {
		return err
	}
	return s.write(ctx, path, buf.Bytes())
}

// ReadDatastackFromFile returns the raw bytes of a parameter set.
func (s *Store) ReadDatastackFromFile(ctx context.Context, path string) ([]byte, error) {
	return s.read(ctx, path)
}

// ReadDatastackFromLogfile returns the raw bytes of a run logfile.
func (s *Store) ReadDatastackFromLogfile(ctx context.Context, path string) ([]byte, error) {
	return s.read(ctx, path)
}
