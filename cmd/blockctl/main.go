// Command blockctl inspects rasters, plans their tiling and splits them into blocks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultBackends).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
