package archive

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/baderkha/access-transfer/pkg/migrate"
)

// File : writes snapshots under Dir on any afero filesystem
type File struct {
	Fs  afero.Fs
	Dir string
	now func() time.Time
}

var _ migrate.Archiver = (*File)(nil)

func NewFile(fs afero.Fs, dir string) *File {
	return &File{Fs: fs, Dir: dir, now: time.Now}
}

// Path : where the snapshot of snap lands
func (f *File) Path(snap migrate.Snapshot) string {
	return filepath.Join(f.Dir, filepath.FromSlash(Key("", snap, f.now())))
}

func (f *File) Archive(_ context.Context, snap migrate.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	p := f.Path(snap)
	if err := f.Fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return afero.WriteFile(f.Fs, p, b, 0644)
}
