package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-assistant/credential"
	"github.com/dhcgn/inbox-assistant/model"
)

// openStore is swapped in tests.
var openStore = func() (secretStore, error) {
	return credential.Open()
}

type secretStore interface {
	Set(key, value string) error
	Delete(key string) error
}

func newCredentialsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "credentials",
		Short: "Manage secrets stored in the OS keyring",
		Long: fmt.Sprintf(`Manage secrets stored in the OS keyring. Known keys: %s.
Stored secrets are used when --keyring is set and no flag or environment
variable provides them.`, strings.Join(credential.Keys, ", ")),
	}

	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret read from the first line of stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			value, err := readSecret(c.InOrStdin())
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	c.AddCommand(set, del)
	return c
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", model.NewError(model.KindValidation, "secret must not be empty", nil)
	}
	return value, nil
}
