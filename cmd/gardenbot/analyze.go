package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"gardenbot/internal/domain"
	"gardenbot/internal/store"

	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis and print the verdict",
		Long: `Reads the device's sensors, sends the device photo (or --image) to the chat
assistant and prints the verdict as JSON. Login requests are only logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.General.RequestTimeout.Std())
			defer cancel()

			a, err := buildApp(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var v domain.Verdict
			if imagePath != "" {
				v, err = a.service.AnalyzeImage(ctx, imagePath)
			} else {
				v, err = a.service.AnalyzeLatest(ctx)
			}
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "analyze this image instead of the device photo")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	var asJSON bool
	var id string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored analyses, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			if !cfg.Store.Enabled {
				return fmt.Errorf("store is disabled (store.enabled=false)")
			}

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if id != "" {
				rec, err := st.Get(ctx, id)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no analysis with id %s", id)
				}
				data, _ := json.MarshalIndent(rec, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			recs, err := st.Latest(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				data, _ := json.MarshalIndent(recs, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printHistory(recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of analyses to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full records as JSON")
	cmd.Flags().StringVar(&id, "id", "", "print one analysis in full")
	return cmd
}

func printHistory(recs []domain.AnalysisRecord) {
	if len(recs) == 0 {
		fmt.Println("No analyses stored yet.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSOURCE\tREADINGS\tRESULT")
	for _, r := range recs {
		result := fmt.Sprintf("%d fields", len(r.Verdict))
		if r.Error != "" {
			result = "error: " + string(r.ErrorKind)
		}
		t := r.Telemetry
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f°C %.0f%% soil %.0f%%\t%s\n",
			r.ID, r.Timestamp.Local().Format("2006-01-02 15:04"), r.Source, t.TemperatureC, t.HumidityPct, t.SoilPercent, result)
	}
	tw.Flush()
}
