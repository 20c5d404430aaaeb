package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/heap/memmap"
	"github.com/joshuapare/kheap/heap/memmap/atags"
	"github.com/joshuapare/kheap/heap/memmap/multiboot"
	"github.com/joshuapare/kheap/heap/page"
	"github.com/joshuapare/kheap/internal/logger"
	"github.com/joshuapare/kheap/internal/mmfile"
)

var (
	memmapFormat    string
	memmapKernelEnd uint64
)

func init() {
	cmd := newMemmapCmd()
	cmd.Flags().StringVarP(&memmapFormat, "format", "f", "atags", "Descriptor format: atags or multiboot")
	cmd.Flags().Uint64Var(&memmapKernelEnd, "kernel-end", 0, "First address past the kernel image")
	rootCmd.AddCommand(cmd)
}

func newMemmapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memmap <blob>",
		Short: "Decode a boot memory map and show the heap region it yields",
		Long: `The memmap command decodes a boot descriptor dump, lists the memory
regions it reports, and shows the region the heap would manage after
initialization.

Example:
  heapctl memmap atags.bin
  heapctl memmap mbi.bin --format multiboot --kernel-end 0x200000
  heapctl memmap atags.bin --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemmap(args)
		},
	}
	return cmd
}

// MemmapReport is the decoded view of a descriptor blob.
type MemmapReport struct {
	File       string          `json:"file"`
	Format     string          `json:"format"`
	Regions    []memmap.Region `json:"regions"`
	CmdLine    string            `json:"cmdline,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	BootLoader string            `json:"boot_loader,omitempty"`
	PageSize   uint32            `json:"page_size,omitempty"`
	Usable     bool            `json:"usable"`
	HeapStart  uint64          `json:"heap_start,omitempty"`
	HeapEnd    uint64          `json:"heap_end,omitempty"`
	Pages      uint64          `json:"pages,omitempty"`
}

func runMemmap(args []string) error {
	path := args[0]
	printVerbose("Mapping %s\n", path)

	blob, err := mmfile.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open descriptor: %w", err)
	}
	defer blob.Close()

	report := MemmapReport{File: path, Format: memmapFormat}

	var src memmap.Source
	switch memmapFormat {
	case "atags":
		list, err := atags.Parse(blob.Bytes())
		if err != nil {
			return fmt.Errorf("failed to parse ATAG list: %w", err)
		}
		printVerbose("Parsed %d tags\n", len(list))
		logger.Debug("parsed atags", "path", path, "tags", len(list))
		report.CmdLine, _ = list.Cmdline()
		for _, tag := range list {
			if core, ok := tag.Core(); ok {
				report.PageSize = core.PageSize
				break
			}
		}
		src = list
	case "multiboot":
		info, err := multiboot.Parse(blob.Bytes())
		if err != nil {
			return fmt.Errorf("failed to parse multiboot info: %w", err)
		}
		printVerbose("Parsed %d memory map entries\n", len(info.Entries))
		logger.Debug("parsed multiboot info", "path", path, "entries", len(info.Entries))
		report.CmdLine = info.CmdLine
		if report.CmdLine != "" {
			report.Params = info.BootCmdLine()
		}
		report.BootLoader = info.BootLoaderName
		src = info
	default:
		return fmt.Errorf("unknown format %q (want atags or multiboot)", memmapFormat)
	}

	report.Regions = memmap.Regions(src)
	if start, end, ok := memmap.Discover(src, memmapKernelEnd); ok {
		if r, err := page.FromExtent(start, end); err == nil {
			report.Usable = true
			report.HeapStart = r.Base
			report.HeapEnd, _ = r.End()
			report.Pages = r.Pages
		}
	}
	if !report.Usable {
		logger.Warn("memory map has no usable heap region", "path", path, "kernel_end", memmapKernelEnd)
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nMemory Map (%s):\n", report.Format)
	if len(report.Regions) == 0 {
		printInfo("  (no memory regions)\n")
	}
	for i, r := range report.Regions {
		printInfo("  %d: %s\n", i, r)
	}
	if report.BootLoader != "" {
		printInfo("  Boot loader: %s\n", report.BootLoader)
	}
	if report.PageSize != 0 {
		printInfo("  Page size: %d\n", report.PageSize)
	}
	if report.CmdLine != "" {
		printInfo("  Command line: %s\n", report.CmdLine)
	}
	for _, k := range slices.Sorted(maps.Keys(report.Params)) {
		printVerbose("    %s = %s\n", k, report.Params[k])
	}

	printInfo("\nHeap Region:\n")
	if !report.Usable {
		printInfo("  none: initialization would abort\n")
		return nil
	}
	printInfo("  [%#x - %#x] %d pages\n", report.HeapStart, report.HeapEnd, report.Pages)
	return nil
}
