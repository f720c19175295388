// Command bucketdump prints the internal allocator and directory
// state of a bucket file, for inspecting it outside of a test.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dmarell/dbucketfile"
	"github.com/dmarell/dbucketfile/dump"
)

func main() {
	allocOnly := flag.Bool("alloc", false, "print only the allocator summary, not full contents")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: bucketdump [-alloc] <path>")
		os.Exit(2)
	}

	f, err := dbucketfile.Open(flag.Arg(0), dbucketfile.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "bucketdump:", err)
		os.Exit(1)
	}
	defer f.Close()

	if *allocOnly {
		err = dump.WriteAllocStatus(os.Stdout, f)
	} else {
		err = dump.WriteContents(os.Stdout, f)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "bucketdump:", err)
		os.Exit(1)
	}
}
