package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/pkg/workerpool"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

var (
	ingestUser string
	exportForm int
	exportOut  string
	listForm   int
	listPage   int
)

type ingestResult struct {
	path       string
	responseID int
	err        error
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [submission.xml...]",
	Short: "Create responses from ODK XML submissions",
	Long: `Each file is ingested in its own transaction by a pool of workers. Failures
caused by the submission itself (malformed XML, unknown form, missing answers)
are reported at once; other failures are retried.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		user, err := fs.Users.ByLogin(ctx, ingestUser)
		if err != nil {
			return err
		}

		var (
			mu      sync.Mutex
			results []ingestResult
		)
		record := func(r ingestResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}

		pool := workerpool.NewWorkerPool(ctx, cfg.Ingest.Workers, cfg.Ingest.QueueSize, logger)
		for _, path := range args {
			var responseID int
			job := workerpool.WithRetry(logger.With(zap.String("file", path)), cfg.Ingest.Retries, cfg.GetRetryDelay(),
				func(ctx context.Context) error {
					f, err := os.Open(path)
					if err != nil {
						return fault.NewClientError("read submission", err)
					}
					defer f.Close()

					resp, err := fs.Ingestor.CreateFromSubmission(ctx, fs.Scope, bufio.NewReader(f), user)
					if err != nil {
						return err
					}
					responseID = resp.ID
					return nil
				},
				func(err error) { record(ingestResult{path: path, responseID: responseID, err: err}) })

			if !pool.Submit(ctx, job) {
				record(ingestResult{path: path, err: ctx.Err()})
			}
		}
		pool.Shutdown(ctx)

		mu.Lock()
		defer mu.Unlock()
		sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })

		out := cmd.OutOrStdout()
		failed := 0
		for _, r := range results {
			if r.err != nil {
				failed++
				fmt.Fprintf(out, "FAIL\t%s\t%v\n", r.path, r.err)
				continue
			}
			fmt.Fprintf(out, "OK\t%s\tresponse %d\n", r.path, r.responseID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d submissions failed", failed, len(args))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the responses of a form as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, cerr := os.Create(exportOut)
			if cerr != nil {
				return cerr
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			w = f
		}
		return fs.Responses.ExportCSV(ctx, w, exportForm)
	},
}

var responsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "Browse saved responses",
}

var responsesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the responses of a form, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		page, err := fs.Responses.List(ctx, listForm, listPage)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range page.Items {
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\treviewed=%t\n", r.ID, r.UUID, r.Source, r.CreatedAt.Format("2006-01-02 15:04"), r.Reviewed)
		}
		fmt.Fprintln(out, page.Entries("response"))
		return nil
	},
}

var responsesRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Summarize how many responses arrived lately",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		summary, err := fs.Responses.RecentCount(ctx, listForm)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "Login of the submitting user (required)")
	ingestCmd.MarkFlagRequired("user")

	exportCmd.Flags().IntVar(&exportForm, "form", 0, "Form id (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "Output file")
	exportCmd.MarkFlagRequired("form")

	for _, c := range []*cobra.Command{responsesListCmd, responsesRecentCmd} {
		c.Flags().IntVar(&listForm, "form", 0, "Form id (required)")
		c.MarkFlagRequired("form")
	}
	responsesListCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
}
