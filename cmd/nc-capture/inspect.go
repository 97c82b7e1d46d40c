package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/export"
	"Go2NetCapture/internal/model"
	"Go2NetCapture/pkg/pcap"
)

type inspectOptions struct {
	Limit        int
	ExportFormat string
	Output       string
}

// runInspect dissects a capture file into the live buffer model, prints
// the statistics and the newest rows, and optionally converts the file.
func runInspect(out io.Writer, path string, opts inspectOptions) error {
	reader, err := pcap.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer reader.Close()

	packets := make(chan model.PacketRecord, 1000)
	errc := make(chan error, 1)
	go func() {
		errc <- reader.ReadPackets(packets)
	}()

	buf := capture.NewBuffer()
	total := 0
	for rec := range packets {
		buf.Insert(rec)
		total++
	}
	if err := <-errc; err != nil {
		return err
	}

	stats := buf.Stats(time.Second)
	fmt.Fprintf(out, "File: %s (%s, link type %s)\n", path, reader.Format(), reader.LinkType())
	fmt.Fprintf(out, "Read %d packets, keeping the newest %d\n", total, buf.Len())
	fmt.Fprintf(out, "%s (%s)\n", stats.Summary, stats.DataMoved)
	for _, c := range stats.Counts {
		fmt.Fprintf(out, "  %-8s %d\n", c.Protocol, c.Count)
	}

	if opts.Limit > 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSOURCE\tDESTINATION\tPROTO\tLEN\tINFO")
		for _, r := range buf.Windowed(opts.Limit) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.Time, r.Source, r.Destination, r.Protocol, r.Length, r.Info)
		}
		tw.Flush()
	}

	if opts.ExportFormat == "" {
		return nil
	}
	format, err := export.ParseFormat(opts.ExportFormat)
	if err != nil {
		return err
	}
	art, err := export.NewPipeline(nil).Export(buf.Snapshot(), format)
	if err != nil {
		return fmt.Errorf("failed to convert capture: %w", err)
	}
	target := opts.Output
	if target == "" {
		target = art.Filename
	}
	if err := os.WriteFile(target, art.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	fmt.Fprintf(out, "%s Wrote %s\n", art.Status, target)
	return nil
}
