package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/weftnet/weft/state"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a node configuration",
	Long: `Generates a keypair and writes a node config for [name]. Add the printed
public key to the mesh config so other nodes will accept the new node.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}
		name := args[0]

		key := state.GenerateKey()
		nodeCfg := state.LocalCfg{
			Key:     key,
			Id:      state.NodeId(name),
			Listen:  fmt.Sprintf(":%d", state.DefaultPort),
			DataDir: name + ".db",
		}

		lcfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			panic(err)
		}

		outPath := cmd.Flag("output").Value.String()
		err = os.WriteFile(outPath, lcfg, 0700)
		if err != nil {
			panic(err)
		}

		pubKey, err := key.Pubkey().MarshalText()
		if err != nil {
			panic(err)
		}
		fmt.Printf("Wrote %s. Mesh config entry:\n", outPath)
		fmt.Printf("  - id: %s\n    pubkey: %s\n", name, pubKey)
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringP("output", "o", "node.yaml", "Output path for the node config")
}
