package cmd

import (
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/weftnet/weft/core"
	"github.com/weftnet/weft/state"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run weft",
	Long:  `This will run a weft node on the current host, joining the mesh described by the mesh config.`,
	Run: func(cmd *cobra.Command, args []string) {
		mcfg, lcfg, err := loadConfigs()
		if err != nil {
			panic(err)
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		err = core.Start(*mcfg, *lcfg, level, nil)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "wf",
}

func loadConfigs() (*state.MeshCfg, *state.LocalCfg, error) {
	var mcfg state.MeshCfg
	file, err := os.ReadFile(meshConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if err := yaml.Unmarshal(file, &mcfg); err != nil {
		return nil, nil, err
	}

	var lcfg state.LocalCfg
	file, err = os.ReadFile(localConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if err := yaml.Unmarshal(file, &lcfg); err != nil {
		return nil, nil, err
	}

	if err := state.MeshConfigValidator(&mcfg); err != nil {
		return nil, nil, err
	}
	if err := state.LocalConfigValidator(&mcfg, &lcfg); err != nil {
		return nil, nil, err
	}
	return &mcfg, &lcfg, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
