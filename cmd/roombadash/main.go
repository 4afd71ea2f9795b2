// Command roombadash talks to a Roomba over its serial interface and
// serves live sensor readings on a small web dashboard.
package main

import (
	"log"
)

func main() {
	cmd := runCommand()
	cmd.AddCommand(portsCommand())
	cmd.AddCommand(decodeCommand())

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
