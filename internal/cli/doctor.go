package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

// newDoctorCommand creates the "doctor" subcommand that checks the external
// CLIs deployctl shells out to.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that required external tools are installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			required := []string{"az", "kubectl", "gh"}

			missing := make([]string, 0, len(required))
			for _, tool := range required {
				if _, err := exec.LookPath(tool); err != nil {
					logger.Error("doctor check failed: missing required tool", "tool", tool, "error", err)
					missing = append(missing, tool)
					continue
				}
				logger.Info("doctor check ok", "tool", tool)
			}

			if len(missing) > 0 {
				return fmt.Errorf("required tools missing from PATH: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}

	return cmd
}
