// Command vdiskutil is a small cobra CLI exercising this module's readers
// end to end: open a disk image, list its partitions, walk a SquashFS
// filesystem inside one, or inspect a registry hive. Grounded on
// cmd/vorteil's imageutil subcommands (gpt.go/fs.go/ls.go/tree.go), reduced
// from vorteil's disk-build/provisioning CLI to an inspection tool matching
// this module's scope.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/vdiskfs/pkg/elog"
)

var log *elog.CLI

var (
	flagVerbose bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "vdiskutil",
	Short: "Inspect disk images, partition tables, SquashFS filesystems, and registry hives",
	Long: `vdiskutil is an inspection tool for the disk-image formats this
module knows how to parse: MBR/GPT partition tables, SquashFS filesystems,
and Windows Registry hives. Images are opened read-write: opening a GPT
with one damaged header copy, or a hive that needs log replay, writes the
repaired structures back.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l := &elog.CLI{}
		logrus.SetLevel(logrus.TraceLevel)
		logrus.SetFormatter(l)
		if flagDebug {
			l.IsDebug = true
			l.IsVerbose = true
		} else if flagVerbose {
			l.IsVerbose = true
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.AddCommand(mbrCmd)
	rootCmd.AddCommand(gptCmd)
	rootCmd.AddCommand(squashfsCmd)
	rootCmd.AddCommand(registryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
