package upload

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/prompt"
)

var (
	abortReason string
	abortForce  bool
)

var abortCmd = &cobra.Command{
	Use:   "abort <upload-id>",
	Short: "Abort an upload session",
	Long: `Abort a multipart upload session and release provider-side state.

Aborting is idempotent: aborting an already-aborted session succeeds.

Examples:
  # Abort a session
  gatefsctl upload abort 3f2a9c1e

  # Abort without confirmation
  gatefsctl upload abort 3f2a9c1e --force --reason "wrong file"`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().StringVar(&abortReason, "reason", "", "Reason recorded with the abort")
	abortCmd.Flags().BoolVarP(&abortForce, "force", "f", false, "Skip confirmation")
}

func runAbort(cmd *cobra.Command, args []string) error {
	uploadID := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Abort upload '%s'?", uploadID), abortForce)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.AbortUpload(uploadID, abortReason); err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Upload '%s' aborted", uploadID))
	return nil
}
