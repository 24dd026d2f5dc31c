package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorteil/vdiskfs/pkg/registry"
)

var (
	registryLog1 string
	registryLog2 string
)

var registryCmd = &cobra.Command{
	Use:   "registry HIVE [KEYPATH]",
	Short: "Print a Windows Registry hive's key tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer stream.Close()

		var logs registry.LogStreams
		if registryLog1 != "" {
			log1, err := openImage(registryLog1)
			if err != nil {
				return err
			}
			defer log1.Close()
			logs.Log1 = log1
		}
		if registryLog2 != "" {
			log2, err := openImage(registryLog2)
			if err != nil {
				return err
			}
			defer log2.Close()
			logs.Log2 = log2
		}

		hive, err := registry.Open(stream, logs, log)
		if err != nil {
			return err
		}
		if hive.Dirty() {
			log.Warnf("hive required log replay to open")
		}

		root, err := hive.Root()
		if err != nil {
			return err
		}

		key := root
		if len(args) > 1 {
			for _, name := range splitKeyPath(args[1]) {
				sub, ok, err := key.SubKey(name)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("registry: key %q not found", args[1])
				}
				key = sub
			}
		}

		return printKeyTree(key, "")
	},
}

func init() {
	registryCmd.Flags().StringVar(&registryLog1, "log1", "", "path to the LOG1 transaction-log file")
	registryCmd.Flags().StringVar(&registryLog2, "log2", "", "path to the LOG2 transaction-log file")
}

func splitKeyPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '\\' || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func printKeyTree(key *registry.Key, prefix string) error {
	log.Printf("%s%s", prefix, key.Name())

	names, err := key.ValueNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		_, valueType, _, err := key.Value(name)
		if err != nil {
			return err
		}
		label := name
		if label == "" {
			label = "(default)"
		}
		log.Printf("%s  %s = (type %d)", prefix, label, valueType)
	}

	subNames, err := key.SubKeyNames()
	if err != nil {
		return err
	}
	for _, name := range subNames {
		sub, ok, err := key.SubKey(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := printKeyTree(sub, prefix+"  "); err != nil {
			return err
		}
	}
	return nil
}
