package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/model"
)

func migrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.db.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", a.db.Driver(), v)
			return nil
		},
	}
}

func reconcileCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.srv.Reconciler().Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d confirmed=%d cancelled=%d repaired=%d errors=%d\n",
				res.Checked, res.Confirmed, res.Cancelled, res.Repaired, res.Errors)
			if res.Errors > 0 {
				return fmt.Errorf("sweep finished with %d errors", res.Errors)
			}
			return nil
		},
	}
}

func confirmCmd(envFile *string) *cobra.Command {
	var byBilling bool

	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Mark a purchase paid and fulfill it",
		Long: `Confirm a purchase by hand, e.g. after checking the gateway dashboard.
The id is the purchase's external id, or its billing id with --billing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			kind := model.ByExternalID
			if byBilling {
				kind = model.ByBillingID
			}
			conf, err := a.srv.Service().ConfirmPayment(cmd.Context(), args[0], kind, metrics.SourceManual)
			if err != nil {
				return fmt.Errorf("confirm %s: %w", args[0], err)
			}
			if conf.WasAlreadyPaid {
				fmt.Fprintf(cmd.OutOrStdout(), "purchase %s was already paid\n", conf.Purchase.ExternalID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purchase %s confirmed (fulfilled=%t enrolled=%t notified=%t)\n",
				conf.Purchase.ExternalID, conf.Fulfilled, conf.Enrolled, conf.Notified)
			return nil
		},
	}
	cmd.Flags().BoolVar(&byBilling, "billing", false, "treat the id as a gateway billing id")
	return cmd
}
