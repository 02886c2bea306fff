package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	meshConfigPath  = "mesh.yaml"
	localConfigPath = "node.yaml"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft Mesh Messaging CLI",
	Long: `Weft is an encrypted messaging system for ad-hoc wireless meshes.
Nodes discover multi-hop routes to each other on demand and deliver messages
end to end, surviving link churn without any fixed infrastructure.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Weft",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "wf",
		Title: "Weft Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&localConfigPath, "node-config", "n", localConfigPath, "node-specific config")
	rootCmd.PersistentFlags().StringVarP(&meshConfigPath, "mesh-config", "c", meshConfigPath, "mesh-global config")
}
