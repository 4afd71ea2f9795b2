package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/smartroomba/roombadash/internal/transport"
)

func portsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports visible to the system",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			reg := transport.NewPortRegistry()
			ports, err := transport.ListPorts(reg, serial.GetPortsList)
			if err != nil {
				return fmt.Errorf("listing ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}
			for _, p := range ports {
				state := ""
				if p.InUse {
					state = " (in use)"
				}
				fmt.Printf("%s%s\n", p.Name, state)
			}
			return nil
		},
	}
}
