package main

import (
	"github.com/spf13/cobra"

	"github.com/vorteil/vdiskfs/pkg/gpt"
)

var gptCmd = &cobra.Command{
	Use:   "gpt IMAGE",
	Short: "Print a GPT partition table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer stream.Close()

		table, err := gpt.Open(stream)
		if err != nil {
			return err
		}

		for i, e := range table.Partitions() {
			log.Printf("Entry %d: %s", i, e.Name)
			log.Printf("  Type:      %s", e.Type)
			log.Printf("  UniqueID:  %s", e.UniqueID)
			log.Printf("  First LBA: %s", printableSize(int64(e.FirstLBA)))
			log.Printf("  Last LBA:  %s", printableSize(int64(e.LastLBA)))
		}
		return nil
	},
}
