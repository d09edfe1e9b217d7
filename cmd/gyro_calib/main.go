package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/relabs-tech/flowberry/internal/app"
	"github.com/relabs-tech/flowberry/internal/sensors"
)

func main() {
	addrFlag := flag.String("a", fmt.Sprintf("0x%02x", sensors.DefaultL3GD20HAddr), "I2C device address")
	calibrate := flag.Bool("c", false, "record calibration samples for 60 s into the calibration file")
	singleLine := flag.Bool("s", false, "print angles on a single updating line")
	calibPath := flag.String("f", sensors.DefaultGyroCalibPath, "calibration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-a ADDR] [-c] [-s] [-f FILE] I2C_BUS\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Reads angle rates from the L3GD20H gyroscope and integrates them to angles.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "I2C bus path must be specified.")
		flag.Usage()
		os.Exit(1)
	}
	addr, err := strconv.ParseUint(*addrFlag, 0, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid address %q: %v\n", *addrFlag, err)
		os.Exit(1)
	}

	if err := app.RunGyroCalib(flag.Arg(0), uint16(addr), *calibrate, *singleLine, *calibPath); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
