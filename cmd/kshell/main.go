// Command kshell boots the kernel core stack over a throwaway disk (or
// an optional host-file-backed image) and runs one of the scenarios
// S1-S6, printing its observed output lines. Grounded on biscuit's
// bin/shell -- a minimal driver program exercising the syscall surface
// interactively -- reduced here to a single named scenario per
// invocation rather than a REPL, since there is no terminal to read
// commands from in this environment.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"maverickos/blockdev"
)

const defaultDiskSectors = 6000

func main() {
	name := flag.String("scenario", "", "scenario to run: s1..s6 (required)")
	image := flag.String("image", "", "host file to back the disk with (default: in-memory scratch disk)")
	flag.Parse()

	if *name == "" {
		names := make([]string, 0, len(scenarios))
		for k := range scenarios {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintf(os.Stderr, "usage: kshell -scenario <%v> [-image <file>]\n", names)
		os.Exit(1)
	}
	run, ok := scenarios[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "kshell: unknown scenario %q\n", *name)
		os.Exit(1)
	}

	var disk blockdev.Disk
	if *image != "" {
		fdisk, err := blockdev.OpenFileDisk(*image, defaultDiskSectors)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kshell: open %s: %v\n", *image, err)
			os.Exit(1)
		}
		defer fdisk.Close()
		disk = fdisk
	} else {
		disk = blockdev.NewMemDisk(defaultDiskSectors)
	}

	env, err := bootOnDisk(disk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kshell: boot: %v\n", err)
		os.Exit(1)
	}

	lines, serr := run(env)
	for _, l := range lines {
		fmt.Println(l)
	}
	if serr != nil {
		fmt.Fprintf(os.Stderr, "kshell: %s: %v\n", *name, serr)
		env.shutdown()
		os.Exit(1)
	}

	if err := env.shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "kshell: %v\n", err)
		os.Exit(1)
	}
}
