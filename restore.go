package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/larksync/larksync/internal/vault"
)

// newRestoreCmd browses the backup files under a path and restores the
// selected ones over their originals.
func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Browse and restore backup files",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRestore(args[0], os.Stdin, os.Stdout)
		},
	}
}

// runRestore lists backups newest batch first and prompts for a selection:
// a number restores one file, "a" restores the whole newest batch, "q"
// quits.
func runRestore(root string, in *os.File, out *os.File) error {
	backups, err := vault.ListBackups(root)
	if err != nil {
		return err
	}

	if len(backups) == 0 {
		fmt.Fprintln(out, "No backup files found under", root)

		return nil
	}

	for i, b := range backups {
		fmt.Fprintf(out, "%3d  [%s]  %s\n", i+1, b.BatchID, b.Original)
	}

	fmt.Fprint(out, "Restore which backup? (number, a = newest batch, q = quit): ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return scanner.Err()
	}

	choice := strings.TrimSpace(scanner.Text())

	switch choice {
	case "q", "":
		return nil

	case "a":
		newest := backups[0].BatchID
		restored := 0

		for _, b := range backups {
			if b.BatchID != newest {
				break
			}

			if err := b.Restore(); err != nil {
				return err
			}

			restored++
		}

		fmt.Fprintf(out, "Restored %d files from batch %s\n", restored, newest)

		return nil

	default:
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(backups) {
			return fmt.Errorf("invalid selection %q", choice)
		}

		b := backups[n-1]
		if err := b.Restore(); err != nil {
			return err
		}

		fmt.Fprintln(out, "Restored", b.Original)

		return nil
	}
}
