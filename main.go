// Tracesim reconstructs the task execution model of traced tasking programs
// and simulates their ideal schedule.
package main

import "github.com/sarchlab/tracesim/cmd"

func main() {
	cmd.Execute()
}
