package reconcile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"peleon/native/wallet"
)

// Summary aggregates a report window.
type Summary struct {
	Start      time.Time
	End        time.Time
	Total      int
	Dispatched int
	Failed     int
	ByKind     map[string]int
	CSVPath    string
	Parquet    string
}

// Report writes the intents recorded in [start, end) to CSV and Parquet files
// under dir and returns the window summary. An empty window writes no files.
func (j *Journal) Report(ctx context.Context, dir string, start, end time.Time) (*Summary, error) {
	rows, err := j.Window(ctx, start, end)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Start: start.UTC(), End: end.UTC(), Total: len(rows), ByKind: make(map[string]int)}
	for _, row := range rows {
		summary.ByKind[row.Kind]++
		switch row.Status {
		case wallet.IntentDispatched.String():
			summary.Dispatched++
		case wallet.IntentFailed.String():
			summary.Failed++
		}
	}
	if len(rows) == 0 {
		return summary, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("reconcile: create report dir: %w", err)
	}
	base := fmt.Sprintf("intents-%s-%s", summary.Start.Format("20060102T150405"), summary.End.Format("20060102T150405"))
	summary.CSVPath = filepath.Join(dir, base+".csv")
	if err := writeCSV(summary.CSVPath, rows); err != nil {
		return nil, err
	}
	summary.Parquet = filepath.Join(dir, base+".parquet")
	if err := writeParquet(summary.Parquet, rows); err != nil {
		return nil, err
	}
	return summary, nil
}

var reportHeader = []string{
	"contract", "seq", "kind", "origin", "target", "recipient", "owner", "sub_account",
	"amount", "gas", "status", "reason", "recorded_at", "settled_at",
}

func writeCSV(path string, rows []IntentRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reconcile: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(reportHeader); err != nil {
		return fmt.Errorf("reconcile: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Contract,
			strconv.FormatUint(row.Seq, 10),
			row.Kind,
			row.Origin,
			row.Target,
			row.Recipient,
			row.Owner,
			row.SubAccount,
			row.Amount,
			row.Gas,
			row.Status,
			row.Reason,
			row.RecordedAt.UTC().Format(time.RFC3339),
			row.SettledAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("reconcile: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("reconcile: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Contract   string `parquet:"name=contract, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Origin     string `parquet:"name=origin, type=BYTE_ARRAY, convertedtype=UTF8"`
	Target     string `parquet:"name=target, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient  string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner      string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubAccount string `parquet:"name=sub_account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Gas        string `parquet:"name=gas, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status     string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason     string `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt  string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []IntentRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reconcile: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("reconcile: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &parquetRow{
			Contract:   row.Contract,
			Seq:        int64(row.Seq),
			Kind:       row.Kind,
			Origin:     row.Origin,
			Target:     row.Target,
			Recipient:  row.Recipient,
			Owner:      row.Owner,
			SubAccount: row.SubAccount,
			Amount:     row.Amount,
			Gas:        row.Gas,
			Status:     row.Status,
			Reason:     row.Reason,
			RecordedAt: row.RecordedAt.UTC().Format(time.RFC3339),
			SettledAt:  row.SettledAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("reconcile: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("reconcile: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("reconcile: close parquet file: %w", err)
	}
	return nil
}
