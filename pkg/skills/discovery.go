package skills

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// MaxDescriptorSize caps the bytes read from a single descriptor file
const MaxDescriptorSize = 1 << 20

// DefaultPatterns selects descriptor files of every supported shape
var DefaultPatterns = []string{"**/*.{md,markdown,mdx,yaml,yml,json,js,mjs,cjs,ts,py}"}

// Discovery handles skill descriptor discovery from configured directories
type Discovery struct {
	skillDirs []string
	patterns  []string
	ignore    []string
	source    skilltypes.Source
}

// Option is a function that configures a Discovery
type Option func(*Discovery) error

// WithSkillDirs sets custom skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(d *Discovery) error {
		d.skillDirs = dirs
		return nil
	}
}

// WithPatterns sets the doublestar patterns that select descriptor files
func WithPatterns(patterns ...string) Option {
	return func(d *Discovery) error {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return errors.Errorf("invalid descriptor pattern %q", p)
			}
		}
		if len(patterns) > 0 {
			d.patterns = patterns
		}
		return nil
	}
}

// WithIgnore skips files matching any of the doublestar patterns
func WithIgnore(patterns ...string) Option {
	return func(d *Discovery) error {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return errors.Errorf("invalid ignore pattern %q", p)
			}
		}
		d.ignore = append(d.ignore, patterns...)
		return nil
	}
}

// WithSource sets the source stamped on discovered descriptors
func WithSource(source skilltypes.Source) Option {
	return func(d *Discovery) error {
		d.source = source
		return nil
	}
}

// WithDefaultDirs initializes with default skill directories
func WithDefaultDirs() Option {
	return func(d *Discovery) error {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		d.skillDirs = []string{
			"./.skillrt/skills",                          // Repo-local (highest precedence)
			filepath.Join(homeDir, ".skillrt", "skills"), // User-global
		}
		return nil
	}
}

// NewDiscovery creates a new skill discovery instance
func NewDiscovery(opts ...Option) (*Discovery, error) {
	d := &Discovery{
		patterns: DefaultPatterns,
		ignore:   []string{"**/node_modules/**", "**/.git/**"},
		source:   skilltypes.SourceRepository,
	}

	if len(opts) == 0 {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
	} else {
		for _, opt := range opts {
			if err := opt(d); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

// Dirs returns the configured skill directories
func (d *Discovery) Dirs() []string {
	return append([]string(nil), d.skillDirs...)
}

// Discover reads every matching descriptor from the configured directories.
// Missing directories are skipped. Unreadable files are reported in the
// returned error while every readable descriptor is still returned.
func (d *Discovery) Discover(ctx context.Context) ([]RawDescriptor, error) {
	var (
		result []RawDescriptor
		errs   *multierror.Error
		seen   = make(map[string]bool)
	)

	for _, dir := range d.skillDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.G(ctx).WithField("dir", dir).Debug("skipping missing skill directory")
			continue
		}

		paths, err := d.match(os.DirFS(dir))
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to scan %s", dir))
			continue
		}

		for _, rel := range paths {
			path := filepath.Join(dir, filepath.FromSlash(rel))
			abs, err := filepath.Abs(path)
			if err == nil && seen[abs] {
				continue
			}
			seen[abs] = true

			content, err := readDescriptor(path)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			result = append(result, RawDescriptor{
				Path:    path,
				Content: content,
				Source:  d.source,
			})
		}
	}

	logger.G(ctx).WithField("descriptors", len(result)).Debug("discovered skill descriptors")
	return result, errs.ErrorOrNil()
}

func (d *Discovery) match(fsys fs.FS) ([]string, error) {
	unique := make(map[string]bool)
	for _, pattern := range d.patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !d.ignored(m) {
				unique[m] = true
			}
		}
	}
	paths := make([]string, 0, len(unique))
	for p := range unique {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *Discovery) ignored(path string) bool {
	for _, pattern := range d.ignore {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func readDescriptor(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open descriptor %s", path)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, MaxDescriptorSize+1))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read descriptor %s", path)
	}
	if len(content) > MaxDescriptorSize {
		return "", errors.Errorf("descriptor %s exceeds %d bytes", path, MaxDescriptorSize)
	}
	return string(content), nil
}
