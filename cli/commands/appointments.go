package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/petal-labs/carelink/services/appointments"
)

func (a *App) newAppointmentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "appointments",
		Aliases: []string{"appts"},
		Short:   "List upcoming appointments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}

			list, err := appointments.New(client).List(cmd.Context()).Get()
			if err != nil {
				return a.fail(err)
			}
			a.logger.Debug("appointments listed", zap.Int("count", len(list)))

			if a.jsonOutput {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if len(list) == 0 {
				fmt.Fprintln(a.stdout, "No appointments.")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tDOCTOR\tHOSPITAL\tSTATUS")
			for _, appt := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", appt.ID, appt.DateTime, appt.Doctor, appt.Hospital, appt.Status)
			}
			return w.Flush()
		},
	}
}
