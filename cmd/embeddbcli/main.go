// Command embeddbcli is a Cobra-based CLI front end for the EmbedDB
// engine, mirroring the teacher-original Rust embeddb-cli's subcommand
// layout but built the idiomatic-Go way the retrieval pack's
// ppriyankuu-godkv/cmd/client does: one cobra.Command per operation, a
// persistent --data-dir flag, and structured logging via zerolog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/embeddb/embeddb/internal/schemafile"
	"github.com/embeddb/embeddb/internal/valuejson"
	"github.com/embeddb/embeddb/pkg/engine"
	"github.com/embeddb/embeddb/pkg/filter"
	"github.com/embeddb/embeddb/pkg/hashembed"
	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/vector"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var dataDir string

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	root := &cobra.Command{
		Use:   "embeddb",
		Short: "EmbedDB CLI",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "engine data directory")

	root.AddCommand(
		listTablesCmd(),
		describeTableCmd(),
		createTableCmd(),
		insertCmd(),
		updateCmd(),
		getCmd(),
		deleteCmd(),
		jobsCmd(),
		retryJobsCmd(),
		processJobsCmd(),
		searchCmd(),
		flushCmd(),
		compactCmd(),
		checkpointCmd(),
		exportSnapshotCmd(),
		restoreSnapshotCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openEngine() (*engine.Engine, error) {
	return engine.Open(engine.NewConfig(dataDir))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func listTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tables",
		Short: "List every table name",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			for _, name := range e.ListTables() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func describeTableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe-table <table>",
		Short: "Show a table's schema and embedding spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			sch, spec, err := e.DescribeTable(args[0])
			if err != nil {
				return err
			}
			printJSON(map[string]interface{}{"schema": sch, "embedding_spec": spec})
			return nil
		},
	}
}

func createTableCmd() *cobra.Command {
	var schemaPath string
	var embedFields string
	cmd := &cobra.Command{
		Use:   "create-table <table>",
		Short: "Create a table from a schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sch, err := schemafile.Load(schemaPath)
			if err != nil {
				return err
			}
			var spec *schema.EmbeddingSpec
			if embedFields != "" {
				fields := splitCSV(embedFields)
				spec = &schema.EmbeddingSpec{SourceFields: fields}
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.CreateTable(args[0], sch, spec); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a schema JSON file")
	cmd.Flags().StringVar(&embedFields, "embed-fields", "", "comma-separated source fields for the embedding spec")
	cmd.MarkFlagRequired("schema")
	return cmd
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func insertCmd() *cobra.Command {
	var rowJSON string
	cmd := &cobra.Command{
		Use:   "insert <table>",
		Short: "Insert a row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := valuejson.DecodeFields([]byte(rowJSON))
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			id, err := e.InsertRow(args[0], fields)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&rowJSON, "row", "", "JSON object of field values")
	cmd.MarkFlagRequired("row")
	return cmd
}

func updateCmd() *cobra.Command {
	var rowJSON string
	cmd := &cobra.Command{
		Use:   "update <table> <row_id>",
		Short: "Replace a row's fields",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid row id %q: %w", args[1], err)
			}
			fields, err := valuejson.DecodeFields([]byte(rowJSON))
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.UpdateRow(args[0], rowID, fields); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&rowJSON, "row", "", "JSON object of field values")
	cmd.MarkFlagRequired("row")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <row_id>",
		Short: "Fetch a row by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid row id %q: %w", args[1], err)
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			row, err := e.GetRow(args[0], rowID)
			if err != nil {
				return err
			}
			printJSON(map[string]interface{}{"id": row.ID, "fields": valuejson.EncodeFields(row.Fields)})
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <row_id>",
		Short: "Delete a row by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid row id %q: %w", args[1], err)
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.DeleteRow(args[0], rowID); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <table>",
		Short: "List embedding jobs for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			jobs, err := e.ListEmbeddingJobs(args[0])
			if err != nil {
				return err
			}
			printJSON(jobs)
			return nil
		},
	}
}

func retryJobsCmd() *cobra.Command {
	var rowIDFlag int64
	cmd := &cobra.Command{
		Use:   "retry-jobs <table>",
		Short: "Reset failed embedding jobs to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rowID *uint64
			if rowIDFlag >= 0 {
				id := uint64(rowIDFlag)
				rowID = &id
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			count, err := e.RetryFailedJobs(args[0], rowID)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
	cmd.Flags().Int64Var(&rowIDFlag, "row-id", -1, "restrict to a single row id")
	return cmd
}

func processJobsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process-jobs <table>",
		Short: "Dispatch pending embedding jobs to the local hash embedder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			var limitPtr *int
			if limit >= 0 {
				limitPtr = &limit
			}
			embedder := hashembed.New()
			count, err := e.ProcessPendingJobs(context.Background(), args[0], embedder, nowMs(), limitPtr)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", -1, "maximum number of jobs to process")
	return cmd
}

func searchCmd() *cobra.Command {
	var queryJSON string
	var k int
	var metricName string
	var filterFlags []string
	cmd := &cobra.Command{
		Use:   "search <table>",
		Short: "Search the k nearest embedded rows to a query vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryVec, err := valuejson.DecodeVector([]byte(queryJSON))
			if err != nil {
				return err
			}
			metric, err := parseMetric(metricName)
			if err != nil {
				return err
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			var conditions []filter.Condition
			if len(filterFlags) > 0 {
				sch, _, err := e.DescribeTable(args[0])
				if err != nil {
					return err
				}
				conditions, err = parseFilters(sch, filterFlags)
				if err != nil {
					return err
				}
			}

			hits, err := e.SearchKNNFiltered(args[0], queryVec, k, metric, conditions)
			if err != nil {
				return err
			}
			printJSON(hits)
			return nil
		},
	}
	cmd.Flags().StringVar(&queryJSON, "query", "", "JSON array query vector")
	cmd.Flags().IntVar(&k, "k", 5, "number of nearest neighbors")
	cmd.Flags().StringVar(&metricName, "metric", "cosine", "distance metric: cosine or l2")
	cmd.Flags().StringArrayVar(&filterFlags, "filter", nil, "column=op:value filter, may repeat")
	cmd.MarkFlagRequired("query")
	return cmd
}

func parseMetric(name string) (vector.Metric, error) {
	switch strings.ToLower(name) {
	case "cosine":
		return vector.MetricCosine, nil
	case "l2":
		return vector.MetricL2, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (want cosine or l2)", name)
	}
}

// parseFilters parses "column=op:value" flags, e.g. "price=gt:100" or
// "title=eq:\"Hello\"", where value is JSON (so strings need quotes).
func parseFilters(sch schema.TableSchema, flags []string) ([]filter.Condition, error) {
	conditions := make([]filter.Condition, 0, len(flags))
	for _, raw := range flags {
		colOp, valStr, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("filter %q: expected column=op:value", raw)
		}
		column, opName, ok := strings.Cut(colOp, "=")
		if !ok {
			return nil, fmt.Errorf("filter %q: expected column=op:value", raw)
		}
		op, err := parseOp(opName)
		if err != nil {
			return nil, err
		}
		var decoded interface{}
		dec := json.NewDecoder(strings.NewReader(valStr))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("filter %q: invalid JSON value: %w", raw, err)
		}
		v, err := valuejson.FromJSON(decoded)
		if err != nil {
			return nil, err
		}
		cond := filter.Condition{Column: column, Op: op, Value: v}
		if err := filter.Validate(sch, cond); err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func parseOp(name string) (filter.Op, error) {
	switch name {
	case "eq":
		return filter.OpEq, nil
	case "neq":
		return filter.OpNeq, nil
	case "lt":
		return filter.OpLt, nil
	case "lte":
		return filter.OpLte, nil
	case "gt":
		return filter.OpGt, nil
	case "gte":
		return filter.OpGte, nil
	default:
		return 0, fmt.Errorf("unknown filter operator %q", name)
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <table>",
		Short: "Flush a table's memtable and tombstones into a level-0 SST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.FlushTable(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <table>",
		Short: "Compact a table's level-0 SST files into level-1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.CompactTable(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Flush every table and rewrite the WAL as a compact snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			result, err := e.Checkpoint()
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func exportSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-snapshot <dest>",
		Short: "Checkpoint and copy the data directory to dest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			result, err := e.ExportSnapshot(args[0])
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func restoreSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-snapshot <src> <dest>",
		Short: "Copy a previously exported snapshot into dest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := engine.RestoreSnapshot(args[0], args[1])
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [table]",
		Short: "Show engine-wide or per-table statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 1 {
				stats, err := e.TableStats(args[0])
				if err != nil {
					return err
				}
				printJSON(stats)
				return nil
			}
			stats, err := e.DbStats()
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
