// p1decode reads a single P1 telegram from a file or stdin and prints
// the consolidated reading as JSON. Handy for checking what a meter
// emits before pointing the collector at it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // meter timezone must resolve on hosts without a tz database

	"github.com/spf13/cobra"

	"github.com/meterkast/p1collector/pkg/dsmr"
	"github.com/meterkast/p1collector/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "p1decode [file]",
		Short: "Decode a DSMR P1 telegram",
		Long: `p1decode decodes a P1 telegram captured from a smart meter and prints
the consolidated reading as JSON. With no file argument it reads stdin,
so you can pipe straight from the serial port:

  timeout 12 cat /dev/ttyUSB0 | p1decode`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runDecode(in, cmd.OutOrStdout())
		},
	}

	timezone string
	strict   bool
)

func init() {
	rootCmd.Flags().StringVar(&timezone, "timezone", "Europe/Amsterdam", "timezone of the meter's wall clock")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "reject the telegram on checksum mismatch")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "p1decode:", err)
		os.Exit(1)
	}
}

// lineSource adapts buffered text input to the decoder's line reader.
type lineSource struct {
	scanner *bufio.Scanner
}

func (s *lineSource) ReadLine() (string, error) {
	if s.scanner.Scan() {
		return strings.TrimSpace(s.scanner.Text()), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func runDecode(in io.Reader, out io.Writer) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	decoder := dsmr.NewDecoder(loc, strict, logging.New("p1decode", false))
	reading, _, err := decoder.Decode(&lineSource{scanner: bufio.NewScanner(in)}, dsmr.Watermarks{})
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(reading, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}
