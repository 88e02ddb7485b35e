package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones and cameras",
	Long: `List the microphones and cameras that can be passed to
record --audio-device and --webcam-device. Either the id or the name works.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	return listDevices(cmd, capture.HostDevices{})
}

func listDevices(cmd *cobra.Command, lister capture.DeviceLister) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	mics, err := lister.Microphones(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "microphones unavailable: %v\n", err)
	}
	cams, err := lister.Cameras(ctx)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}

	printDevices(out, "Microphones", mics)
	fmt.Fprintln(out)
	printDevices(out, "Cameras", cams)
	return nil
}

func printDevices(w io.Writer, title string, devices []capture.Device) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(tw, "  %s %s\t%s\n", mark, d.Name, d.ID)
	}
	_ = tw.Flush()
}
