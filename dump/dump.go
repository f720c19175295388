// Package dump renders a bucket file's internal allocator and
// directory state as plain text, for operators and tests - not
// something normal record access ever needs. It is grounded on
// original_source BucketFile's printContents/printAllocStatus methods,
// which are themselves documented as "for testing only".
package dump

import (
	"fmt"
	"io"

	"github.com/dmarell/dbucketfile"
)

// WriteContents reports the deallocated page chain, the index record's
// page chain, and every data record's page chain alongside its
// directory metadata.
func WriteContents(w io.Writer, f *dbucketfile.File) error {
	snap := f.Debug()

	fmt.Fprintln(w, "Deallocated pages")
	fmt.Fprintln(w, "=================")
	if snap.FirstDeallocatedPage == 0 {
		fmt.Fprintln(w, "  None.")
	} else if err := f.DumpPageChain(w, snap.FirstDeallocatedPage); err != nil {
		return err
	}

	fmt.Fprintln(w, "Index record")
	fmt.Fprintln(w, "============")
	if err := f.DumpPageChain(w, snap.IndexStartPage); err != nil {
		return err
	}

	fmt.Fprintln(w, "Data Records")
	fmt.Fprintln(w, "============")
	if len(snap.Records) == 0 {
		fmt.Fprintln(w, "  None.")
		return nil
	}
	for _, r := range snap.Records {
		fmt.Fprintf(w, "  Record ID = %d\n", r.Key)
		fmt.Fprintf(w, "    Number of bytes = %d\n", r.NumberOfBytes)
		if err := f.DumpPageChain(w, r.StartPageAddress); err != nil {
			return err
		}
	}
	return nil
}

// WriteAllocStatus reports a one-line summary of the allocator's state.
func WriteAllocStatus(w io.Writer, f *dbucketfile.File) error {
	snap := f.Debug()
	_, err := fmt.Fprintf(w,
		"nextFreePageAddress=%d firstDeallocatedPage=%d lastDeallocatedPage=%d pageDataSize=%d indexStartPage=%d\n",
		snap.NextFreePageAddress, snap.FirstDeallocatedPage, snap.LastDeallocatedPage, snap.PageDataSize, snap.IndexStartPage)
	return err
}
