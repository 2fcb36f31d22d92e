package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/output"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

var (
	searchScope  string
	searchMount  string
	searchPath   string
	searchLimit  int
	searchCursor string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the file index",
	Long: `Search indexed files and directories by name.

The query must be at least 3 characters. Scope narrows the search to one
mount or one directory subtree.

Examples:
  # Search across all mounts
  gatefsctl search report

  # Search one mount
  gatefsctl search report --scope mount --mount docs

  # Search a directory subtree
  gatefsctl search report --scope directory --mount docs --path /2024

  # Fetch the next page
  gatefsctl search report --cursor <nextCursor>`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchScope, "scope", "", "Search scope (global|mount|directory)")
	searchCmd.Flags().StringVar(&searchMount, "mount", "", "Mount ID (required for mount and directory scope)")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "Directory path (required for directory scope)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results per page")
	searchCmd.Flags().StringVar(&searchCursor, "cursor", "", "Pagination cursor from a previous page")
}

// searchResultTable renders search entries as a table.
type searchResultTable []apiclient.SearchEntry

// Headers implements TableRenderer.
func (rt searchResultTable) Headers() []string {
	return []string{"MOUNT", "PATH", "TYPE", "SIZE", "MODIFIED"}
}

// Rows implements TableRenderer.
func (rt searchResultTable) Rows() [][]string {
	rows := make([][]string, 0, len(rt))
	for _, e := range rt {
		kind := "file"
		size := output.FormatBytes(e.Size)
		if e.IsDir {
			kind = "dir"
			size = "-"
		}
		modified := timeutil.Format(time.UnixMilli(e.ModifiedMs))
		rows = append(rows, []string{e.MountID, e.FSPath, kind, size, modified})
	}
	return rows
}

func runSearch(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	result, err := client.Search(apiclient.SearchQuery{
		Query:   args[0],
		Scope:   searchScope,
		MountID: searchMount,
		Path:    searchPath,
		Limit:   searchLimit,
		Cursor:  searchCursor,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if err := cmdutil.PrintOutput(os.Stdout, result, len(result.Entries) == 0, "No matches found.", searchResultTable(result.Entries)); err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return nil
	}

	if len(result.IndexNotReadyMountIDs) > 0 {
		fmt.Printf("\nSkipped mounts with unready index: %v\n", result.IndexNotReadyMountIDs)
	}
	if result.HasMore {
		fmt.Printf("\nMore results available. Next page:\n  gatefsctl search %q --cursor %s\n", args[0], result.NextCursor)
	}

	return nil
}
