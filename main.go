// uzhavan is a retrieval-augmented farming assistant backend.
//
// All application logic lives in the cmd package; main is a minimal
// entry point following the standard Go CLI layout.
package main

import (
	"fmt"
	"os"

	"github.com/uzhavan/uzhavan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
