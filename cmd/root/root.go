package root

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags 覆盖
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lingcore",
	Short: "In-memory keyspace built on Redis-style compact encodings",
	Long: `lingcore keeps lists, sets and hashes in ziplist/intset/quicklist encodings
and converts them to hash tables as they grow. Its admin API is served over HTTP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "lingcore", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute 运行命令行
func Execute() error {
	return rootCmd.Execute()
}

// AddCommand 注册子命令
func AddCommand(cmds ...*cobra.Command) {
	rootCmd.AddCommand(cmds...)
}
