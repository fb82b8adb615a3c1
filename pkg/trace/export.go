package trace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"
)

// Format is a trace file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

var ErrUnsupportedFormat = errors.New("unsupported trace format")

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Export writes the recorded trace to path.
func (r *Recorder) Export(ctx context.Context, path string) error {
	return WriteFrame(ctx, path, r.Frame())
}

// WriteFrame writes df to path in the format named by its extension.
func WriteFrame(ctx context.Context, path string, df *dataframe.DataFrame) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if format == FormatParquet {
		fw, err := local.NewLocalFileWriter(path)
		if err != nil {
			return err
		}
		if err := exports.ExportToParquet(ctx, fw, df); err != nil {
			fw.Close()
			return fmt.Errorf("export parquet: %w", err)
		}
		return fw.Close()
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		err = exports.ExportToCSV(ctx, file, df)
	case FormatJSON:
		err = exports.ExportToJSON(ctx, file, df)
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", format, err)
	}
	return file.Close()
}
