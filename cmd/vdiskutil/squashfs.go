package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorteil/vdiskfs/pkg/squashfs"
	"github.com/vorteil/vdiskfs/pkg/vfs"
	"github.com/vorteil/vdiskfs/pkg/vio"
)

var squashfsOffset int64

var squashfsCmd = &cobra.Command{
	Use:   "squashfs IMAGE [PATH]",
	Short: "Print a tree of a SquashFS filesystem inside IMAGE",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer stream.Close()

		var src vio.SparseStream = stream
		if squashfsOffset != 0 {
			length, err := stream.Length()
			if err != nil {
				return err
			}
			src, err = vio.NewSubStream(stream, squashfsOffset, length-squashfsOffset)
			if err != nil {
				return err
			}
		}

		reader, err := squashfs.Open(src, log)
		if err != nil {
			return err
		}

		fs, err := vfs.Open(vfs.NewSquashfsBackend(reader), log)
		if err != nil {
			return err
		}

		path := "/"
		if len(args) > 1 {
			path = args[1]
		}
		entry, err := fs.GetDirectoryEntry(path)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("squashfs: %q not found", path)
		}

		name := entry.Name()
		if path == "/" {
			name = "/"
		}
		log.Printf("%s", name)
		return printTreeChildren(entry, "")
	},
}

func init() {
	squashfsCmd.Flags().Int64Var(&squashfsOffset, "offset", 0, "byte offset of the SquashFS superblock within IMAGE")
}

// printTreeChildren recurses over entry's children in the style of
// imageutil.Tree's box-drawing walk (cmd/vorteil/imageutil/tree.go),
// generalized from ext inodes to any vfs.Entry.
func printTreeChildren(entry *vfs.Entry, prefix string) error {
	children, err := entry.Children()
	if err != nil {
		return err
	}
	for i, c := range children {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(children)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		log.Printf("%s%s%s", prefix, connector, c.Name())
		if c.IsDir() {
			if err := printTreeChildren(c, childPrefix); err != nil {
				return err
			}
		}
	}
	return nil
}
