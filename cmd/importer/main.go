// Command importer inspects bank statements and keyword rules offline,
// running the same detection and parsing the API uses without a database.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/parser"
	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
	"github.com/FACorreiaa/household-finance/pkg/money"
	"github.com/FACorreiaa/household-finance/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "importer",
		Short: "Inspect bank statements and category keyword rules",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newParseCmd(), newArchivedCmd(), newRulesCmd())
	return rootCmd
}

type parseOptions struct {
	sheet    string
	output   string
	currency string
}

// parseOutput mirrors the body of POST /import/parse.
type parseOutput struct {
	Format          sniffer.Format               `json:"format"`
	SheetName       string                       `json:"sheet_name"`
	AvailableSheets []string                     `json:"available_sheets"`
	HeaderRowIndex  int                          `json:"header_row_index"`
	Columns         sniffer.Columns              `json:"columns"`
	Transactions    []parser.ParsedTransaction   `json:"transactions"`
	Categories      []parser.CategoryObservation `json:"categories"`
	Errors          []string                     `json:"errors"`
}

type statementRow struct {
	Date            string `csv:"date"`
	Description     string `csv:"description"`
	Amount          string `csv:"amount"`
	BankCategory    string `csv:"bank_category"`
	BankSubcategory string `csv:"bank_subcategory"`
}

func newParseCmd() *cobra.Command {
	opts := &parseOptions{}
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Detect and parse a statement file (.xlsx, .xls or .csv)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read statement: %w", err)
			}
			return runParse(cmd.OutOrStdout(), cmd.ErrOrStderr(), filepath.Base(args[0]), data, opts)
		},
	}
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "sheet to parse instead of the detected one")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or csv")
	cmd.Flags().StringVar(&opts.currency, "currency", money.EUR, "currency used for the totals line")
	return cmd
}

func newArchivedCmd() *cobra.Command {
	opts := &parseOptions{}
	var dir string
	cmd := &cobra.Command{
		Use:   "archived <user id> <file id>",
		Short: "Parse a statement previously archived by the API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			fileID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid file id: %w", err)
			}

			archive, err := storage.NewLocalArchive(dir)
			if err != nil {
				return err
			}
			rc, info, err := archive.Open(cmd.Context(), userID, fileID)
			if err != nil {
				return err
			}
			defer rc.Close()

			data, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("failed to read archived statement: %w", err)
			}
			return runParse(cmd.OutOrStdout(), cmd.ErrOrStderr(), info.Name, data, opts)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./uploads", "archive directory, as set by IMPORT_ARCHIVE_DIR")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "sheet to parse instead of the detected one")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or csv")
	cmd.Flags().StringVar(&opts.currency, "currency", money.EUR, "currency used for the totals line")
	return cmd
}

func runParse(stdout, stderr io.Writer, filename string, data []byte, opts *parseOptions) error {
	wb, err := parser.LoadWorkbook(filename, data)
	if err != nil {
		return err
	}
	det, err := sniffer.Detect(wb, opts.sheet)
	if err != nil {
		var detErr *sniffer.DetectionError
		if errors.As(err, &detErr) && len(detErr.AvailableSheets) > 0 {
			return fmt.Errorf("%w (sheets: %v)", err, detErr.AvailableSheets)
		}
		return err
	}

	sheet, _ := wb.Sheet(det.SheetName)
	result := parser.ParseRows(sheet.Rows, det.HeaderRowIndex, det.Format, det.Columns)

	switch opts.output {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(parseOutput{
			Format:          det.Format,
			SheetName:       det.SheetName,
			AvailableSheets: det.AvailableSheets,
			HeaderRowIndex:  det.HeaderRowIndex,
			Columns:         det.Columns,
			Transactions:    result.Transactions,
			Categories:      result.Categories,
			Errors:          result.Errors,
		})
	case "csv":
		rows := make([]statementRow, 0, len(result.Transactions))
		for _, tx := range result.Transactions {
			rows = append(rows, statementRow{
				Date:            tx.Date,
				Description:     tx.Description,
				Amount:          money.NewFromFloat(tx.Amount, opts.currency).String(),
				BankCategory:    tx.BankCategory,
				BankSubcategory: tx.BankSubcategory,
			})
		}
		err = gocsv.Marshal(&rows, stdout)
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	amounts := make([]float64, len(result.Transactions))
	for i, tx := range result.Transactions {
		amounts[i] = tx.Amount
	}
	summary, err := money.Summarize(amounts, opts.currency)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "%s %q: %d transactions, %d errors, income %s, expenses %s, net %s\n",
		det.Format, det.SheetName, summary.Count, len(result.Errors),
		summary.Income.Display(), summary.Expenses.Display(), summary.Net.Display())
	for _, e := range result.Errors {
		fmt.Fprintln(stderr, "  "+e)
	}
	return nil
}

type rulesOptions struct {
	file   string
	output string
}

func newRulesCmd() *cobra.Command {
	opts := &rulesOptions{}
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the keyword rule table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := loadRuleSet(opts.file)
			if err != nil {
				return err
			}
			return writeRules(cmd.OutOrStdout(), rs, opts.output)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.file, "file", "", "rule table to load instead of the embedded one")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")

	cmd.AddCommand(&cobra.Command{
		Use:   "match <bank category> [bank subcategory]",
		Short: "Show which rules match a bank category pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRuleSet(opts.file)
			if err != nil {
				return err
			}
			var sub string
			if len(args) == 2 {
				sub = args[1]
			}
			return writeMatches(cmd.OutOrStdout(), mapping.NewEngine(rs), args[0], sub)
		},
	})
	return cmd
}

func loadRuleSet(path string) (*mapping.RuleSet, error) {
	if path == "" {
		return mapping.DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return mapping.LoadRules(data)
}

func writeRules(w io.Writer, rs *mapping.RuleSet, output string) error {
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rs); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func writeMatches(w io.Writer, engine *mapping.Engine, category, subcategory string) error {
	matched := engine.MatchRules(category, subcategory)
	if len(matched) == 0 {
		_, err := fmt.Fprintln(w, "no rule matches")
		return err
	}
	rules := engine.Rules().Rules
	for i, ri := range matched {
		r := rules[ri]
		target := r.Category
		if r.Subcategory != "" {
			target += " / " + r.Subcategory
		}
		marker := " "
		if i == 0 {
			marker = "*"
		}
		if _, err := fmt.Fprintf(w, "%s rule %d -> %s\n", marker, ri+1, target); err != nil {
			return err
		}
	}
	return nil
}
