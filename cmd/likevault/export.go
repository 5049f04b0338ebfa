package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iconidentify/likevault/internal/downloader"
	"github.com/iconidentify/likevault/internal/export"
	"github.com/iconidentify/likevault/internal/sink"
)

var (
	exportOut     string
	exportKeys    []string
	exportEncrypt bool
	exportSink    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the catalog videos into a single archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := export.Options{
			Keys:     exportKeys,
			Progress: printProgress,
		}
		if exportEncrypt && a.cfg.Export.Passphrase == "" {
			pass, err := promptPassphrase("Archive passphrase: ")
			if err != nil {
				return err
			}
			opts.Passphrase = pass
		}

		fetcher := downloader.NewHTTPFetcher(a.cfg.Export, a.cfg.Remote.UserAgent, a.client, a.normalizer, a.logger)

		if exportSink {
			dst, err := sink.NewFromConfig(cmd.Context(), a.cfg.Export, a.logger)
			if err != nil {
				return err
			}
			exporter := export.NewExporter(a.cfg.Export, a.repo, fetcher, dst, a.events, a.logger)
			result, err := exporter.Export(cmd.Context(), opts)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d videos (%s) to %s\n", result.Entries, humanize.Bytes(uint64(result.Bytes)), result.Location)
			return nil
		}

		exporter := export.NewExporter(a.cfg.Export, a.repo, fetcher, nil, a.events, a.logger)
		archive, err := exporter.Prepare(cmd.Context(), opts)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = archive.Name
		} else if info, err := os.Stat(out); err == nil && info.IsDir() {
			out = filepath.Join(out, archive.Name)
		}
		if err := os.WriteFile(out, archive.Data, 0600); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		fmt.Printf("Exported %d videos (%s) to %s\n", archive.Entries, humanize.Bytes(uint64(len(archive.Data))), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file or directory (default: archive name in the current directory)")
	exportCmd.Flags().StringSliceVar(&exportKeys, "keys", nil, "Only export these catalog keys")
	exportCmd.Flags().BoolVar(&exportEncrypt, "encrypt", false, "Encrypt the archive, prompting for a passphrase unless one is configured")
	exportCmd.Flags().BoolVar(&exportSink, "sink", false, "Deliver to the configured export destination instead of a local file")
	rootCmd.AddCommand(exportCmd)
}

func printProgress(p export.Progress) {
	fmt.Fprintf(os.Stderr, "\r%-10s %d/%d", p.Stage, p.Completed, p.Total)
}

// promptPassphrase reads a passphrase without echo when stdin is a terminal.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if len(pass) == 0 {
			return "", fmt.Errorf("empty passphrase")
		}
		return string(pass), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	pass := strings.TrimSpace(line)
	if pass == "" {
		return "", fmt.Errorf("empty passphrase")
	}
	return pass, nil
}
