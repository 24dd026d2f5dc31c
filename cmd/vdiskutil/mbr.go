package main

import (
	"github.com/spf13/cobra"

	"github.com/vorteil/vdiskfs/pkg/mbr"
)

var mbrCmd = &cobra.Command{
	Use:   "mbr IMAGE",
	Short: "Print an MBR (and extended) partition table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer stream.Close()

		table, err := mbr.Open(stream)
		if err != nil {
			return err
		}

		parts, err := table.Partitions()
		if err != nil {
			return err
		}

		for _, p := range parts {
			log.Printf("Partition %d:", p.Index)
			log.Printf("  Type:   0x%02x", p.Type)
			log.Printf("  Active: %v", p.Active)
			log.Printf("  LBA:    %s + %s", printableSize(int64(p.LBAStart)), printableSize(int64(p.LBALength)))
		}
		return nil
	},
}
