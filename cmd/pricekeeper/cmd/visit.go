package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/types"
)

var (
	visitPartner int64
	visitVendor  int64
	visitLat     float64
	visitLon     float64
	visitNote    string
)

var visitCmd = &cobra.Command{
	Use:   "visit",
	Short: "Record field visits",
}

func init() {
	rootCmd.AddCommand(visitCmd)
	for _, kind := range []types.VisitKind{types.VisitCheckIn, types.VisitCheckOut} {
		visitCmd.AddCommand(newVisitCmd(kind))
	}
}

func newVisitCmd(kind types.VisitKind) *cobra.Command {
	c := &cobra.Command{
		Use:   map[types.VisitKind]string{types.VisitCheckIn: "check-in", types.VisitCheckOut: "check-out"}[kind],
		Short: "Queue a " + string(kind) + " at a partner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVisit(cmd, kind)
		},
	}
	c.Flags().Int64Var(&visitPartner, "partner", 0, "partner visited")
	c.Flags().Int64Var(&visitVendor, "vendor", 0, "vendor making the visit")
	c.Flags().Float64Var(&visitLat, "lat", 0, "latitude")
	c.Flags().Float64Var(&visitLon, "lon", 0, "longitude")
	c.Flags().StringVar(&visitNote, "note", "", "free text note")
	_ = c.MarkFlagRequired("partner")
	return c
}

func runVisit(cmd *cobra.Command, kind types.VisitKind) error {
	ctx := context.Background()

	database, q, err := openDatabase(ctx, deviceURL())
	if err != nil {
		return err
	}
	defer database.Close()

	id := types.NewLocalID()
	visit := types.Visit{
		LocalID:   id,
		Kind:      kind,
		PartnerID: visitPartner,
		VendorID:  visitVendor,
		At:        time.Now().UTC(),
		Note:      visitNote,
	}
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
		visit.Latitude = types.Some(visitLat)
		visit.Longitude = types.Some(visitLon)
	}

	payloadKind := types.KindCheckIn
	if kind == types.VisitCheckOut {
		payloadKind = types.KindCheckOut
	}
	entry, err := outbox.NewEntry(payloadKind, id, visit)
	if err != nil {
		return err
	}
	stored, err := newLocalEngine(q).Enqueue(ctx, entry)
	if err != nil {
		return err
	}
	return printJSON(cmd, stored)
}
