package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iconidentify/likevault/pkg/crypto"
)

var decryptOut string

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Decrypt an encrypted export archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !crypto.IsEncryptedFile(path) {
			return fmt.Errorf("%s is not an encrypted archive", path)
		}

		pass := os.Getenv("EXPORT_PASSPHRASE")
		if pass == "" {
			var err error
			if pass, err = promptPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		data, err := crypto.DecryptFile(path, pass)
		if err != nil {
			return err
		}

		out := decryptOut
		if out == "" {
			out = strings.TrimSuffix(path, crypto.Extension)
			if out == path {
				out = path + ".zip"
			}
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		fmt.Printf("Decrypted %s to %s\n", humanize.Bytes(uint64(len(data))), out)
		return nil
	},
}

func init() {
	decryptCmd.Flags().StringVarP(&decryptOut, "out", "o", "", "Output path (default: input without the encrypted extension)")
	rootCmd.AddCommand(decryptCmd)
}
