package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quotecache/internal/cache"
	"quotecache/internal/market"
)

func getCmd() *cobra.Command {
	var marketName string
	cmd := &cobra.Command{
		Use:   "get TICKER...",
		Short: "Read quotes through the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := market.Parse(marketName)
			if err != nil {
				return err
			}
			rows := make([]row, 0, len(args))
			for _, t := range args {
				res, err := svc.Manager.GetQuote(cmd.Context(), t, m)
				if err != nil {
					log.WithField("ticker", t).WithError(err).Error("get failed")
					continue
				}
				rows = append(rows, row{Result: res})
			}
			return output(rows)
		},
	}
	cmd.Flags().StringVarP(&marketName, "market", "m", "us", "market of the tickers (us, brazil)")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh TICKER...",
		Short: "Force a provider round trip for each ticker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]row, 0, len(args))
			var failed int
			for _, t := range args {
				res, err := svc.Manager.ForceRefresh(cmd.Context(), t)
				if err != nil {
					failed++
					log.WithField("ticker", t).WithError(err).Error("refresh failed")
					continue
				}
				rows = append(rows, row{Result: res})
			}
			if err := output(rows); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refreshes failed", failed, len(args))
			}
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached quote from memory and the durable tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Manager.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "cache cleared")
			return nil
		},
	}
}

func warmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Read every watchlist entry once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := svc.Warmer.RunOnce(cmd.Context())
			svc.Manager.Wait()
			fmt.Fprintf(os.Stdout, "warmed %d entries: %d fresh, %d stale, %d failed\n",
				len(svc.Warmer.Items()), s.Fresh, s.Stale, s.Failed)
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "List cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := svc.Manager.Snapshot()
			if asJSON {
				return writeJSON(os.Stdout, entries)
			}
			renderEntries(os.Stdout, entries)
			return nil
		},
	}
}

func output(rows []row) error {
	if asJSON {
		results := make([]cache.Result, 0, len(rows))
		for _, r := range rows {
			results = append(results, r.Result)
		}
		return writeJSON(os.Stdout, results)
	}
	renderQuotes(os.Stdout, rows)
	return nil
}
