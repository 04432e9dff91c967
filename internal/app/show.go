package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"offer-sync-alerts/internal/storage"
)

// Show prints tracked offers, or recent alerts when opts.Alerts is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.openPersistent(ctx, "show offers")
	if err != nil {
		return err
	}
	defer b.close()

	if opts.Alerts {
		alerts, err := b.store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return a.printAlerts(alerts)
	}

	offers, err := b.store.ListOffers(ctx, storage.OfferFilter{Priority: strings.ToUpper(opts.Priority), Limit: opts.Limit})
	if err != nil {
		return err
	}
	return a.printOffers(offers)
}

func (a *App) printOffers(offers []storage.Offer) error {
	if len(offers) == 0 {
		fmt.Fprintln(a.Out, "no offers found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tStatus\tCountry\tPayout\tLast activity\tMinutes\tPriority\tUpdated (UTC)")

	for _, o := range offers {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
			o.ID,
			sanitizeInline(o.Name),
			o.Status,
			o.Country,
			o.Payout.StringFixed(2),
			o.Currency,
			sanitizeInline(deref(o.LastActivityRaw)),
			formatMinutes(o.LastActivityMinutes),
			o.Priority,
			o.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}

func (a *App) printAlerts(alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tOffer\tKind\tPrevious\tCurrent\tStatus")

	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s -> %s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.OfferID,
			al.Kind,
			sanitizeInline(deref(al.PreviousRaw)),
			sanitizeInline(deref(al.CurrentRaw)),
			al.PreviousStatus,
			al.CurrentStatus,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatMinutes(m *float64) string {
	if m == nil {
		return "-"
	}
	return strconv.FormatFloat(*m, 'f', -1, 64)
}
