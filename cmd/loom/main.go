// Command loom runs the autonomous issue-to-merge orchestrator daemon and
// its supporting CLI surface (spec §6.3).
package main

import "os"

func main() {
	os.Exit(Execute())
}
