// Package main generates bearer keys for the gateway's API_KEYS setting.
package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	keyPrefix     = "chai_"
	defaultLength = 64
	envFile       = ".env"
	envKey        = "API_KEYS"
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	envFileMode   = 0o600
)

func main() {
	if err := newRootCmd(os.Stdout, envFile).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, envPath string) *cobra.Command {
	var (
		length      int
		appendToEnv bool
	)

	cmd := &cobra.Command{
		Use:   "keygen [num]",
		Short: "Generate gateway API keys",
		Long: `Generate random bearer keys of the form chai_<alphanumerics>.

By default the keys are printed one per line. With --append-to-env-file
they are merged into API_KEYS in ./.env instead. The file is rewritten in
sorted KEY="value" form, so comments and ordering are not kept, and its
mode is set to 0600.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			num := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("num must be a positive integer, got %q", args[0])
				}
				num = n
			}
			if length < 1 {
				return fmt.Errorf("length must be positive, got %d", length)
			}

			keys := make([]string, 0, num)
			for range num {
				key, err := generateKey(length)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}

			if appendToEnv {
				if err := appendKeys(envPath, keys); err != nil {
					return err
				}
				fmt.Fprintf(out, "added %d key(s) to %s\n", len(keys), envPath)
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&length, "length", "l", defaultLength, "number of random characters after the prefix")
	cmd.Flags().BoolVarP(&appendToEnv, "append-to-env-file", "a", false, "merge keys into API_KEYS in .env (rewrites the file, dropping comments)")
	cmd.SetOut(out)
	return cmd
}

// generateKey returns keyPrefix followed by length characters drawn
// uniformly from alphabet.
func generateKey(length int) (string, error) {
	var b strings.Builder
	b.Grow(len(keyPrefix) + length)
	b.WriteString(keyPrefix)
	limit := big.NewInt(int64(len(alphabet)))
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// appendKeys merges keys into the comma-separated API_KEYS entry of path,
// creating the file if needed. Other entries are preserved but comments are
// not. The file is left readable by its owner only.
func appendKeys(path string, keys []string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		env = map[string]string{}
	}

	var merged []string
	for _, k := range strings.Split(env[envKey], ",") {
		if k = strings.TrimSpace(k); k != "" {
			merged = append(merged, k)
		}
	}
	merged = append(merged, keys...)
	env[envKey] = strings.Join(merged, ",")

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(path, envFileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
