package cmd

import "github.com/spf13/cobra"

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	Long:  `Create the starter config file. Shorthand for 're-agent config init'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

func init() {
	initCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
