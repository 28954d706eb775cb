package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironfield/rtuhub/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show the rtuhub build version.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "rtuhub version: %s\n", core.FormatVersion(core.Version))
		},
	}

	return versionCmd
}
