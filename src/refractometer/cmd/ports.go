package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dividat/refractometer/src/refractometer/device"
	"github.com/dividat/refractometer/src/refractometer/device/mockdev"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports a measurement can be started on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, closeLog, err := setupLogging(cfg.Log, false)
		if err != nil {
			return err
		}
		defer closeLog()

		enumerator := device.NewEnumerator(log, mockdev.New(log))
		ports, err := enumerator.ListPorts()
		if err != nil {
			return err
		}
		return printPorts(cmd.OutOrStdout(), ports)
	},
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func printPorts(out io.Writer, ports []device.PortInfo) error {
	if len(ports) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("PATH", "USB ID", "SERIAL", "PRODUCT").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		for _, port := range ports {
			usbId := "-"
			if port.IsUSB {
				usbId = fmt.Sprintf("%04X:%04X", port.IdVendor, port.IdProduct)
			}
			t.Row(port.Path, usbId, orDash(port.SerialNumber), orDash(port.Product))
		}
		if _, err := fmt.Fprintln(out, t.Render()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(out, device.Summary(ports))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
