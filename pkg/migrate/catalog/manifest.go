package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type manifest struct {
	Objects []Object `json:"objects" yaml:"objects"`
}

// ManifestFile : reads the object list from a manifest exported from the source
// database. The format is picked by extension (.yaml/.yml, otherwise json).
type ManifestFile struct {
	Fs   afero.Fs
	Path string
}

// NewManifestFile : manifest catalog on the given filesystem
func NewManifestFile(fs afero.Fs, path string) *ManifestFile {
	return &ManifestFile{Fs: fs, Path: path}
}

func (m *ManifestFile) ListObjects(ctx context.Context) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w : %v", ErrSourceUnavailable, err)
	}
	b, err := afero.ReadFile(m.Fs, m.Path)
	if err != nil {
		return nil, fmt.Errorf("%w : reading manifest %s : %v", ErrSourceUnavailable, m.Path, err)
	}
	var mf manifest
	switch strings.ToLower(filepath.Ext(m.Path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &mf)
	default:
		err = json.Unmarshal(b, &mf)
	}
	if err != nil {
		return nil, fmt.Errorf("%w : parsing manifest %s : %v", ErrSourceUnavailable, m.Path, err)
	}
	if err := validate(mf.Objects); err != nil {
		return nil, fmt.Errorf("%w : %v", ErrSourceUnavailable, err)
	}
	return mf.Objects, nil
}

func validate(objs []Object) error {
	var (
		finalErr error
		seen     = make(map[string]bool, len(objs))
	)
	for i := range objs {
		o := &objs[i]
		if o.Name == "" {
			finalErr = multierror.Append(finalErr, fmt.Errorf("object #%d has no name", i))
			continue
		}
		if seen[o.Name] {
			finalErr = multierror.Append(finalErr, fmt.Errorf("object %s listed twice", o.Name))
		}
		seen[o.Name] = true
		k, err := ParseKind(string(o.Kind))
		if err != nil {
			finalErr = multierror.Append(finalErr, fmt.Errorf("object %s : %w", o.Name, err))
			continue
		}
		o.Kind = k
		if !k.RowBearing() {
			o.EstimatedRecordCount = nil
		} else if o.EstimatedRecordCount != nil && *o.EstimatedRecordCount < 0 {
			finalErr = multierror.Append(finalErr, fmt.Errorf("object %s has a negative record count", o.Name))
		}
	}
	return finalErr
}
