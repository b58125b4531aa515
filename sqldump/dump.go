package sqldump

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"
)

type DumpStats struct {
	Tables     int
	Rows       int
	Statements int
}

type schemaObject struct {
	Type    string
	Name    string
	TblName string
	SQL     string
}

// Dump writes the schema and data of every table as an ordered sequence of
// statements. Views are dropped first and tables recreated before their
// rows, then indexes, views and triggers follow.
func (d *DB) Dump(ctx context.Context, w io.Writer) (DumpStats, error) {
	stats := DumpStats{}
	start := time.Now()
	d.logger.Info().Msg("start database dump")

	objects := []schemaObject{}
	err := d.cli.WithContext(ctx).Raw(`
		SELECT type, name, tbl_name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 WHEN 'view' THEN 2 ELSE 3 END, name
	`).Scan(&objects).Error
	if err != nil {
		return stats, fmt.Errorf("read schema: %w", err)
	}

	bw := bufio.NewWriter(w)
	emit := func(stmt string) error {
		stats.Statements++
		_, err := bw.WriteString(stmt + ";\n")
		return err
	}

	if _, err := fmt.Fprintf(bw, "-- intake-backup database dump\n-- created %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return stats, err
	}

	for _, o := range objects {
		if o.Type != "view" {
			continue
		}
		if err := emit("DROP VIEW IF EXISTS " + quoteIdent(o.Name)); err != nil {
			return stats, err
		}
	}

	for _, o := range objects {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		switch o.Type {
		case "table":
			stats.Tables++
			if err := emit("DROP TABLE IF EXISTS " + quoteIdent(o.Name)); err != nil {
				return stats, err
			}
			if err := emit(o.SQL); err != nil {
				return stats, err
			}
			rows, err := d.dumpRows(ctx, o.Name, emit)
			if err != nil {
				return stats, fmt.Errorf("dump table %s: %w", o.Name, err)
			}
			stats.Rows += rows
			d.logger.Debug().Str("table", o.Name).Int("rows", rows).Msg("dumped table")
		default:
			if err := emit(o.SQL); err != nil {
				return stats, err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return stats, err
	}

	d.logger.Info().
		Int("tables", stats.Tables).
		Int("rows", stats.Rows).
		Float64("elapsed", time.Since(start).Seconds()).
		Msg("done database dump")
	return stats, nil
}

// dumpRows renders every row with SQLite's quote() so that values come back
// exactly as stored, whatever the declared column type.
func (d *DB) dumpRows(ctx context.Context, table string, emit func(string) error) (int, error) {
	columns := []string{}
	err := d.cli.WithContext(ctx).
		Raw("SELECT name FROM pragma_table_info(?) ORDER BY cid", table).
		Scan(&columns).Error
	if err != nil {
		return 0, fmt.Errorf("read columns: %w", err)
	}
	if len(columns) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(columns))
	selects := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		selects[i] = "quote(" + quoted[i] + ")"
	}
	prefix := "INSERT INTO " + quoteIdent(table) + " (" + strings.Join(quoted, ", ") + ") VALUES ("

	rows, err := d.cli.WithContext(ctx).
		Raw("SELECT " + strings.Join(selects, ", ") + " FROM " + quoteIdent(table)).
		Rows()
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	values := make([]sql.RawBytes, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := 0
	var sb strings.Builder
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, err
		}
		sb.Reset()
		sb.WriteString(prefix)
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.Write(v)
		}
		sb.WriteString(")")
		if err := emit(sb.String()); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
