package sink

import (
	"context"
	"io"

	"github.com/matzehuels/genretree/pkg/export"
)

// File writes the record to a path, or to a writer when Path is empty.
type File struct {
	Path   string
	Format string
	Writer io.Writer
}

// NewFile returns a sink writing to path. An empty format is inferred from
// the extension.
func NewFile(path, format string) *File {
	return &File{Path: path, Format: format}
}

// NewWriter returns a sink writing to w in the given format.
func NewWriter(w io.Writer, format string) *File {
	return &File{Writer: w, Format: format}
}

// Name implements Sink.
func (f *File) Name() string {
	if f.Path == "" {
		return "stdout"
	}
	return "file"
}

// Write implements Sink.
func (f *File) Write(_ context.Context, run Run) error {
	if f.Path != "" {
		return export.WriteFile(run.Record, f.Path, f.Format)
	}
	format := f.Format
	if format == "" {
		format = export.DefaultFormat
	}
	return export.Encode(f.Writer, run.Record, format)
}

// Close implements Sink.
func (f *File) Close(context.Context) error { return nil }

var _ Sink = (*File)(nil)
