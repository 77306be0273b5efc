package reports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tipledger/native/tipping"
)

// Source yields committed tips in id order.
type Source interface {
	Export(fn func(tipping.ExportRow) error) error
}

// Summary describes the files produced by Export.
type Summary struct {
	Rows        int
	ParquetPath string
	CSVPath     string
}

type tipRow struct {
	TipID         int64  `parquet:"name=tip_id, type=INT64"`
	TrackID       string `parquet:"name=track_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Receiver      string `parquet:"name=receiver, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sender        string `parquet:"name=sender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Label         string `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount        string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	PlatformShare string `parquet:"name=platform_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	LabelShare    string `parquet:"name=label_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	OwnerShare    string `parquet:"name=owner_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt     int64  `parquet:"name=created_at, type=INT64"`
	CreatedAtUTC  string `parquet:"name=created_at_utc, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var csvHeader = []string{
	"tip_id", "track_id", "receiver", "sender", "label", "amount",
	"platform_share", "label_share", "owner_share", "created_at",
}

func toTipRow(row tipping.ExportRow) *tipRow {
	return &tipRow{
		TipID:         int64(row.TipID),
		TrackID:       row.TrackID,
		Receiver:      row.Receiver,
		Sender:        row.Sender,
		Label:         row.Label,
		Amount:        row.Amount,
		PlatformShare: row.PlatformShare,
		LabelShare:    row.LabelShare,
		OwnerShare:    row.OwnerShare,
		CreatedAt:     int64(row.CreatedAt),
		CreatedAtUTC:  time.Unix(int64(row.CreatedAt), 0).UTC().Format(time.RFC3339),
	}
}

// Export collects every tip from src and writes tips.parquet and tips.csv
// into dir.
func Export(src Source, dir string) (Summary, error) {
	if src == nil {
		return Summary{}, errors.New("reports: source required")
	}
	var rows []tipping.ExportRow
	if err := src.Export(func(row tipping.ExportRow) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		return Summary{}, fmt.Errorf("reports: collect tips: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("reports: create dir: %w", err)
	}
	summary := Summary{
		Rows:        len(rows),
		ParquetPath: filepath.Join(dir, "tips.parquet"),
		CSVPath:     filepath.Join(dir, "tips.csv"),
	}
	if err := WriteParquet(summary.ParquetPath, rows); err != nil {
		return Summary{}, err
	}
	if err := WriteCSV(summary.CSVPath, rows); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// WriteParquet writes rows to path as a snappy-compressed parquet file.
func WriteParquet(path string, rows []tipping.ExportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(tipRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("reports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(toTipRow(row)); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("reports: write parquet row %d: %w", row.TipID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("reports: finalize parquet: %w", err)
	}
	return file.Close()
}

// WriteCSV writes rows to path with a header line.
func WriteCSV(path string, rows []tipping.ExportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reports: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("reports: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.TipID, 10),
			row.TrackID,
			row.Receiver,
			row.Sender,
			row.Label,
			row.Amount,
			row.PlatformShare,
			row.LabelShare,
			row.OwnerShare,
			strconv.FormatUint(row.CreatedAt, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("reports: write csv row %d: %w", row.TipID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("reports: flush csv: %w", err)
	}
	return file.Close()
}
