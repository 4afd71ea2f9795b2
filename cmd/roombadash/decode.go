package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/recorder"
)

func decodeCommand() *cobra.Command {
	protocol := "OI"
	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Dump a recorded CSV as decoded sensor readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return decode(args[0], oi.ParseProtocol(protocol))
		},
	}
	cmd.Flags().StringVar(&protocol, "protocol", protocol, "Serial protocol: SCI or OI")
	return cmd
}

func decode(path string, proto oi.Protocol) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r := recorder.NewReader(f)
	defer r.Close()

	for {
		sample, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		d, err := oi.Decode(proto, sample.Code, sample.Raw, sample.At)
		if err != nil {
			fmt.Printf("%s  code=%d  undecodable: %v\n",
				sample.At.Format("15:04:05.000"), sample.Code, err)
			continue
		}
		fmt.Printf("%s  code=%d  dist=%dmm angle=%dmm batt=%dmV %dmA charge=%d/%dmAh bump=%v/%v fault=%v\n",
			sample.At.Format("15:04:05.000"), d.Code,
			d.DistanceMM, d.AngleMM,
			d.VoltageMV, d.CurrentMA, d.ChargeMAH, d.CapacityMAH,
			d.BumpLeft, d.BumpRight, d.SafetyFault)
	}
}
