// Package archive opens game archives for reading and writing across local
// files, standard streams, Google Cloud Storage, S3 and HTTP. Compression is
// chosen by file extension.
//
// URI forms:
//
//	games.pgn, games.pgn.zst, ./dir/    local file or directory
//	-                                   stdin / stdout
//	gs://bucket/object, gs://bucket/p/  GCS object or prefix
//	s3://bucket/object, s3://bucket/p/  S3 object or prefix
//	https://host/games.pgn.zst          HTTP download (read only)
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/discochess/chessbook/internal/codec"
	"github.com/discochess/chessbook/internal/codec/gzipcodec"
	"github.com/discochess/chessbook/internal/codec/noopcodec"
	"github.com/discochess/chessbook/internal/codec/zstdcodec"
)

var (
	// ErrInvalidURI indicates a location that cannot be parsed.
	ErrInvalidURI = errors.New("archive: invalid location")

	// ErrNoObjects indicates a prefix or directory with no archives.
	ErrNoObjects = errors.New("archive: no objects found")

	// ErrReadOnly indicates a location that cannot be written.
	ErrReadOnly = errors.New("archive: location is read only")

	// ErrFinished indicates a sink that was already committed or aborted.
	ErrFinished = errors.New("archive: sink already finished")
)

// Scheme identifies the backend of a location.
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeStd   Scheme = "-"
	SchemeGCS   Scheme = "gs"
	SchemeS3    Scheme = "s3"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Location is a parsed archive URI.
type Location struct {
	Scheme Scheme
	// Bucket is set for gs and s3 locations.
	Bucket string
	// Path is the object key, file path or full URL.
	Path string
}

// Parse parses an archive URI.
func Parse(uri string) (Location, error) {
	switch {
	case uri == "":
		return Location{}, fmt.Errorf("%w: empty", ErrInvalidURI)
	case uri == "-":
		return Location{Scheme: SchemeStd}, nil
	case strings.HasPrefix(uri, "gs://"):
		return parseBucket(SchemeGCS, strings.TrimPrefix(uri, "gs://"), uri)
	case strings.HasPrefix(uri, "s3://"):
		return parseBucket(SchemeS3, strings.TrimPrefix(uri, "s3://"), uri)
	case strings.HasPrefix(uri, "http://"):
		return Location{Scheme: SchemeHTTP, Path: uri}, nil
	case strings.HasPrefix(uri, "https://"):
		return Location{Scheme: SchemeHTTPS, Path: uri}, nil
	case strings.HasPrefix(uri, "file://"):
		return Location{Scheme: SchemeFile, Path: strings.TrimPrefix(uri, "file://")}, nil
	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURI, uri)
	}
	return Location{Scheme: SchemeFile, Path: uri}, nil
}

func parseBucket(scheme Scheme, rest, uri string) (Location, error) {
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: missing bucket name in %q", ErrInvalidURI, uri)
	}
	return Location{Scheme: scheme, Bucket: bucket, Path: key}, nil
}

// IsPrefix reports whether the location names a set of objects.
func (l Location) IsPrefix() bool {
	switch l.Scheme {
	case SchemeGCS, SchemeS3:
		return l.Path == "" || strings.HasSuffix(l.Path, "/")
	case SchemeFile:
		if strings.HasSuffix(l.Path, "/") {
			return true
		}
		info, err := os.Stat(l.Path)
		return err == nil && info.IsDir()
	}
	return false
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeStd:
		return "-"
	case SchemeGCS, SchemeS3:
		return string(l.Scheme) + "://" + l.Bucket + "/" + l.Path
	}
	return l.Path
}

// CodecFor returns the codec matching a file name's extension.
func CodecFor(name string) codec.Codec {
	switch path.Ext(name) {
	case ".zst", ".zstd":
		return zstdcodec.New()
	case ".gz", ".gzip":
		return gzipcodec.New()
	}
	return noopcodec.New()
}

// IsArchiveName reports whether a listed object looks like a game archive.
func IsArchiveName(name string) bool {
	base := strings.TrimSuffix(name, path.Ext(name))
	switch path.Ext(name) {
	case ".pgn":
		return true
	case ".zst", ".zstd", ".gz", ".gzip":
		return path.Ext(base) == ".pgn"
	}
	return false
}

// Sink is an output archive that becomes visible only on Commit.
type Sink interface {
	io.Writer
	// Commit publishes the written data.
	Commit() error
	// Abort discards the written data. It is safe to call after Commit,
	// in which case it does nothing.
	Abort() error
}

// Archive opens locations, creating cloud clients on first use.
type Archive struct {
	logger     *zap.Logger
	stdin      io.Reader
	stdout     io.Writer
	httpClient *http.Client
	gcsOpts    []option.ClientOption
	s3Opts     []func(*s3.Options)
	s3Region   string

	mu        sync.Mutex
	gcsClient *storage.Client
	s3Client  *s3.Client
	ownsGCS   bool
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// WithStdio sets the streams used for the "-" location.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *Archive) {
		a.stdin = in
		a.stdout = out
	}
}

// WithHTTPClient sets the client used for HTTP downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Archive) { a.httpClient = c }
}

// WithGCSClient sets the GCS client. The caller keeps ownership.
func WithGCSClient(c *storage.Client) Option {
	return func(a *Archive) { a.gcsClient = c }
}

// WithGCSOptions sets options used when the GCS client is created.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(a *Archive) { a.gcsOpts = append(a.gcsOpts, opts...) }
}

// WithS3Client sets the S3 client.
func WithS3Client(c *s3.Client) Option {
	return func(a *Archive) { a.s3Client = c }
}

// WithS3Region sets the region used when the S3 client is created.
func WithS3Region(region string) Option {
	return func(a *Archive) { a.s3Region = region }
}

// WithS3Endpoint points the S3 client at a custom endpoint with path-style
// addressing, for S3-compatible stores.
func WithS3Endpoint(endpoint string) Option {
	return func(a *Archive) { a.s3Opts = append(a.s3Opts, endpointOption(endpoint)) }
}

// New creates an Archive.
func New(opts ...Option) *Archive {
	a := &Archive{
		logger:     zap.NewNop(),
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		httpClient: defaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("archive")
	return a
}

// Open returns a reader over the decompressed contents of uri. For a prefix
// or directory, every archive below it is read in name order, separated by
// a blank line.
func (a *Archive) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}

	var b backend
	switch loc.Scheme {
	case SchemeStd:
		return decoded("-", io.NopCloser(a.stdin))
	case SchemeHTTP, SchemeHTTPS:
		rc, name, err := a.download(ctx, loc.Path)
		if err != nil {
			return nil, err
		}
		return decoded(name, rc)
	case SchemeFile:
		b = localBackend{}
	case SchemeGCS:
		if b, err = a.gcs(ctx, loc.Bucket); err != nil {
			return nil, err
		}
	case SchemeS3:
		if b, err = a.s3(ctx, loc.Bucket); err != nil {
			return nil, err
		}
	}

	if !loc.IsPrefix() {
		rc, err := b.open(ctx, loc.Path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", loc, err)
		}
		return decoded(loc.Path, rc)
	}

	names, err := b.list(ctx, loc.Path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", loc, err)
	}
	var archives []string
	for _, n := range names {
		if IsArchiveName(n) {
			archives = append(archives, n)
		}
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoObjects, loc)
	}
	sort.Strings(archives)
	a.logger.Debug("reading archives", zap.String("location", loc.String()), zap.Int("objects", len(archives)))
	return &concatReader{ctx: ctx, names: archives, backend: b}, nil
}

// Create returns a sink writing to uri, compressed according to its
// extension. Nothing is visible at uri until Commit.
func (a *Archive) Create(ctx context.Context, uri string) (Sink, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}

	if loc.Scheme != SchemeStd && loc.IsPrefix() {
		return nil, fmt.Errorf("%w: %s names a prefix, not an object", ErrInvalidURI, loc)
	}

	var raw Sink
	switch loc.Scheme {
	case SchemeStd:
		raw = &bufferSink{out: a.stdout}
	case SchemeHTTP, SchemeHTTPS:
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, loc)
	case SchemeFile:
		if raw, err = createLocal(loc.Path); err != nil {
			return nil, err
		}
	case SchemeGCS:
		g, err := a.gcs(ctx, loc.Bucket)
		if err != nil {
			return nil, err
		}
		raw = g.create(ctx, loc.Path)
	case SchemeS3:
		s, err := a.s3(ctx, loc.Bucket)
		if err != nil {
			return nil, err
		}
		if raw, err = s.create(ctx, loc.Path); err != nil {
			return nil, err
		}
	}
	return encoded(loc.Path, raw)
}

// Close releases clients created by the Archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ownsGCS && a.gcsClient != nil {
		err := a.gcsClient.Close()
		a.gcsClient = nil
		return err
	}
	return nil
}

// backend reads objects from one store.
type backend interface {
	open(ctx context.Context, name string) (io.ReadCloser, error)
	list(ctx context.Context, prefix string) ([]string, error)
}

// decoded wraps rc with the codec matching name.
func decoded(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	dec, err := CodecFor(name).Reader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("opening decompressor for %s: %w", name, err)
	}
	return &stackedReader{Reader: dec, closers: []io.Closer{dec, rc}}, nil
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (r *stackedReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// concatReader reads a list of objects one after the other, opening each
// lazily and ending each with a newline so games never run together.
type concatReader struct {
	ctx     context.Context
	names   []string
	backend backend
	cur     io.ReadCloser
}

func (r *concatReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.names) == 0 {
				return 0, io.EOF
			}
			name := r.names[0]
			r.names = r.names[1:]
			rc, err := r.backend.open(r.ctx, name)
			if err != nil {
				return 0, fmt.Errorf("opening %s: %w", name, err)
			}
			dec, err := decoded(name, rc)
			if err != nil {
				return 0, err
			}
			r.cur = &stackedReader{
				Reader:  io.MultiReader(dec, strings.NewReader("\n\n")),
				closers: []io.Closer{dec},
			}
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *concatReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

// encodedSink compresses writes into an underlying sink.
type encodedSink struct {
	w   io.WriteCloser
	raw Sink
}

func encoded(name string, raw Sink) (Sink, error) {
	w, err := CodecFor(name).Writer(raw)
	if err != nil {
		raw.Abort()
		return nil, fmt.Errorf("opening compressor for %s: %w", name, err)
	}
	return &encodedSink{w: w, raw: raw}, nil
}

func (s *encodedSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *encodedSink) Commit() error {
	if err := s.w.Close(); err != nil {
		s.raw.Abort()
		return fmt.Errorf("flushing compressor: %w", err)
	}
	return s.raw.Commit()
}

func (s *encodedSink) Abort() error {
	s.w.Close()
	return s.raw.Abort()
}

// bufferSink holds output in memory and writes it to out on Commit.
type bufferSink struct {
	out  io.Writer
	buf  []byte
	done bool
}

func (s *bufferSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrFinished
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *bufferSink) Commit() error {
	if s.done {
		return ErrFinished
	}
	s.done = true
	_, err := s.out.Write(s.buf)
	s.buf = nil
	return err
}

func (s *bufferSink) Abort() error {
	s.done = true
	s.buf = nil
	return nil
}
