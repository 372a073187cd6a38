package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/americaro/quotemail/pkg/delivery"
	"github.com/americaro/quotemail/pkg/message"
	"github.com/americaro/quotemail/pkg/outcome"
)

type sendOptions struct {
	pdfPath     string
	fileURL     string
	bizName     string
	senderEmail string
	output      string
}

// newSendCommand delivers a single quote without starting the HTTP server.
func newSendCommand(rt *runtimeState) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one quote PDF from a local file or URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, rt, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pdfPath, "pdf", "", "Path to the quote PDF")
	cmd.Flags().StringVar(&opts.fileURL, "url", "", "URL to download the quote PDF from")
	cmd.Flags().StringVar(&opts.bizName, "biz-name", "", "Business name of the requester")
	cmd.Flags().StringVar(&opts.senderEmail, "sender-email", "", "Email address of the requester")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: json")
	_ = cmd.MarkFlagRequired("biz-name")
	_ = cmd.MarkFlagRequired("sender-email")
	cmd.MarkFlagsMutuallyExclusive("pdf", "url")
	cmd.MarkFlagsOneRequired("pdf", "url")

	return cmd
}

func runSend(cmd *cobra.Command, rt *runtimeState, opts *sendOptions) error {
	ctx := cmd.Context()
	log := rt.log.Sugar()

	source, closeSource, err := opts.source(rt)
	if err != nil {
		return err
	}
	defer closeSource()

	requester := message.Requester{BizName: opts.bizName, SenderEmail: opts.senderEmail}
	msg, err := newComposer(rt.cfg).Compose(ctx, source, requester)
	if err != nil {
		return fmt.Errorf("build quote message: %w", err)
	}

	worker, pool, err := newWorker(rt.cfg, rt.relayDialer(), log)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	sink, err := newSink(rt.cfg, rt.log)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	job := delivery.NewJob(msg)
	start := time.Now()
	attempts, deliverErr := worker.Deliver(ctx, pool.NewSlot(), job)

	record := &outcome.Record{
		JobID:     job.ID,
		Origin:    string(msg.Origin),
		Recipient: msg.To,
		Subject:   msg.Subject,
		Filename:  msg.Filename,
		Attempts:  attempts,
		Success:   deliverErr == nil,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	if deliverErr != nil {
		record.Error = deliverErr.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Write(writeCtx, record); err != nil {
		log.Warnw("Failed to record delivery outcome", "job", job.ID, "error", err)
	}

	if err := printRecord(cmd, opts.output, record); err != nil {
		return err
	}
	return deliverErr
}

func (o *sendOptions) source(rt *runtimeState) (message.Source, func(), error) {
	if o.fileURL != "" {
		if err := message.ValidateFileURL(o.fileURL); err != nil {
			return nil, nil, err
		}
		timeout, err := rt.cfg.FetchTimeout()
		if err != nil {
			return nil, nil, err
		}
		return message.NewFetcher(timeout).FromURL(o.fileURL), func() {}, nil
	}
	if o.pdfPath == "" {
		return nil, nil, errors.New("one of --pdf or --url is required")
	}
	f, err := os.Open(o.pdfPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open quote pdf: %w", err)
	}
	return message.FromUpload(f), func() { _ = f.Close() }, nil
}

func printRecord(cmd *cobra.Command, format string, record *outcome.Record) error {
	writer := cmd.OutOrStdout()
	switch format {
	case "json":
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(record)
	case "":
		if record.Success {
			_, _ = fmt.Fprintf(writer, "delivered %s to %s (job %s, %d attempt(s))\n",
				record.Filename, record.Recipient, record.JobID, record.Attempts)
		} else {
			_, _ = fmt.Fprintf(writer, "delivery of %s failed after %d attempt(s): %s\n",
				record.Filename, record.Attempts, record.Error)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
