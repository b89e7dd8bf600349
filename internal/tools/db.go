package tools

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
)

// QueryRequest describes one read-only database query.
type QueryRequest struct {
	URL string
	SQL string
	// OutBase names the export files in the outputs dir.
	OutBase string
}

// ColumnarExport is the gob-encoded columnar result format: one string
// slice per column, in column order.
type ColumnarExport struct {
	Columns []string
	Values  [][]string
}

// DB executes SELECT queries against a connection URL and exports the
// result set to a row-oriented CSV and a columnar binary file.
type DB struct {
	Paths
}

// Query resolves the registered driver for the URL scheme, runs the query
// and writes both exports. Drivers are compiled in; an unsupported scheme
// is an explicit failure, not an install attempt.
func (d *DB) Query(ctx context.Context, req QueryRequest, dryRun bool) Result {
	base := req.OutBase
	if base == "" {
		base = "query_result"
	}
	csvPath := filepath.Join(d.Outputs, base+".csv")
	gobPath := filepath.Join(d.Outputs, base+".gob")

	if dryRun {
		return Result{OK: true, ExitCode: ExitNone, Extra: map[string]string{
			"planned_url": req.URL,
			"planned_sql": req.SQL,
			"csv":         csvPath,
			"gob":         gobPath,
		}}
	}

	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(req.SQL)), "SELECT") {
		return Result{OK: false, Stderr: "only SELECT queries are supported", ExitCode: ExitNone}
	}
	driver, dsn, err := driverFor(req.URL)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, req.SQL)
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}

	var records [][]string
	scan := make([]any, len(cols))
	for i := range scan {
		scan[i] = new(any)
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
		}
		rec := make([]string, len(cols))
		for i := range scan {
			rec[i] = stringifyCell(*scan[i].(*any))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}

	if err := writeCSV(csvPath, cols, records); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}
	if err := writeColumnar(gobPath, cols, records); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: ExitNone}
	}

	return Result{
		OK:       true,
		Stdout:   fmt.Sprintf("Rows: %d", len(records)),
		ExitCode: ExitNone,
		Artifact: csvPath,
		Extra: map[string]string{
			"csv":  csvPath,
			"gob":  gobPath,
			"rows": strconv.Itoa(len(records)),
		},
	}
}

func driverFor(url string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "", "", fmt.Errorf("connection URL %q has no scheme", url)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres", url, nil
	case "sqlite", "sqlite3":
		return "sqlite", rest, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme %q: no driver linked", scheme)
	}
}

func stringifyCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func writeCSV(path string, cols []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeColumnar(path string, cols []string, records [][]string) error {
	export := ColumnarExport{Columns: cols, Values: make([][]string, len(cols))}
	for i := range cols {
		col := make([]string, len(records))
		for j, rec := range records {
			col[j] = rec[i]
		}
		export.Values[i] = col
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(export)
}
